package index

import (
	"math"
	"sort"
)

// IVF build parameters. nlist follows the √n heuristic capped at maxNlist;
// nprobe bounds how many clusters a query visits. Both derive from the entry
// count at build time rather than being configured; the migration threshold
// is the only policy knob exposed.
const (
	maxNlist       = 64
	maxNprobe      = 10
	kmeansMaxIters = 15
)

// ivf is the approximate backing structure: entries are partitioned into
// clusters around trained centroids and queries only scan the clusters whose
// centroids are nearest to the query vector.
type ivf struct {
	// centroids are the cluster centers, unit-normalized.
	centroids [][]float32
	// lists holds entry positions per cluster, parallel to centroids.
	lists [][]int
	// nprobe is how many clusters each search visits.
	nprobe int
}

func (v *ivf) kind() string { return kindIVF }

// buildIVF trains centroids over all current entries and assigns each entry
// to its nearest cluster. Called under the index write lock.
func buildIVF(entries []Entry) *ivf {
	nlist := int(math.Sqrt(float64(len(entries))))
	if nlist > maxNlist {
		nlist = maxNlist
	}
	if nlist < 1 {
		nlist = 1
	}

	centroids := kmeans(entries, nlist)

	v := &ivf{
		centroids: centroids,
		lists:     make([][]int, len(centroids)),
		nprobe:    min(len(centroids), maxNprobe),
	}
	for pos := range entries {
		c := v.nearestCentroid(entries[pos].Vector)
		v.lists[c] = append(v.lists[c], pos)
	}
	return v
}

// add assigns new entries to their nearest existing cluster. Centroids are
// not retrained on incremental adds; the occasional document removal
// triggers a full rebuild which re-trains them.
func (v *ivf) add(entries []Entry, positions []int) {
	for _, pos := range positions {
		c := v.nearestCentroid(entries[pos].Vector)
		v.lists[c] = append(v.lists[c], pos)
	}
}

// search visits the nprobe clusters nearest to the query and ranks their
// members. Recall is approximate: an entry assigned to an unvisited cluster
// is missed, which is the latency/recall trade the structure exists for.
func (v *ivf) search(entries []Entry, query []float32, k int) []scored {
	type clusterDist struct {
		idx   int
		score float32
	}
	clusters := make([]clusterDist, len(v.centroids))
	for i, c := range v.centroids {
		clusters[i] = clusterDist{idx: i, score: dot(query, c)}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].score > clusters[j].score })

	probes := v.nprobe
	if probes > len(clusters) {
		probes = len(clusters)
	}

	var hits []scored
	for _, c := range clusters[:probes] {
		for _, pos := range v.lists[c.idx] {
			hits = append(hits, scored{pos: pos, score: dot(query, entries[pos].Vector)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return entries[hits[i].pos].ChunkIndex < entries[hits[j].pos].ChunkIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// nearestCentroid returns the index of the centroid most similar to vec.
func (v *ivf) nearestCentroid(vec []float32) int {
	best := 0
	bestScore := float32(math.Inf(-1))
	for i, c := range v.centroids {
		if s := dot(vec, c); s > bestScore {
			bestScore = s
			best = i
		}
	}
	return best
}

// kmeans runs Lloyd's algorithm over the entry vectors. Initialization
// strides evenly through the entries so training is deterministic for a
// given insertion order.
func kmeans(entries []Entry, nlist int) [][]float32 {
	dim := len(entries[0].Vector)

	centroids := make([][]float32, nlist)
	stride := len(entries) / nlist
	if stride < 1 {
		stride = 1
	}
	for i := range centroids {
		src := entries[(i*stride)%len(entries)].Vector
		centroids[i] = append([]float32(nil), src...)
	}

	assignments := make([]int, len(entries))
	for iter := 0; iter < kmeansMaxIters; iter++ {
		changed := false
		for pos := range entries {
			best := 0
			bestScore := float32(math.Inf(-1))
			for ci, c := range centroids {
				if s := dot(entries[pos].Vector, c); s > bestScore {
					bestScore = s
					best = ci
				}
			}
			if assignments[pos] != best {
				assignments[pos] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for pos, ci := range assignments {
			counts[ci]++
			for d, x := range entries[pos].Vector {
				sums[ci][d] += float64(x)
			}
		}
		for ci := range centroids {
			if counts[ci] == 0 {
				// Empty cluster keeps its previous centroid.
				continue
			}
			var norm float64
			for d := range centroids[ci] {
				m := sums[ci][d] / float64(counts[ci])
				centroids[ci][d] = float32(m)
				norm += m * m
			}
			if norm > 0 {
				inv := float32(1 / math.Sqrt(norm))
				for d := range centroids[ci] {
					centroids[ci][d] *= inv
				}
			}
		}
	}

	return centroids
}
