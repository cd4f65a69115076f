package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// snapshot is the on-disk form of the index. The IVF clustering is not
// serialized; it is cheap to retrain relative to embedding cost, and
// re-deriving it on load keeps the file format at a single versioned shape.
type snapshot struct {
	Version    int     `json:"version"`
	Dimensions int     `json:"dimensions"`
	Structure  string  `json:"structure"`
	Migrations int     `json:"migrations"`
	Entries    []Entry `json:"entries"`
}

// snapshotVersion identifies the current snapshot layout.
const snapshotVersion = 1

// Save serializes the index state to the configured path. The write goes
// through a temp file and rename so a crash mid-save never truncates the
// previous snapshot. No-op when no path is configured.
func (ix *Index) Save() error {
	if ix.cfg.Path == "" {
		return nil
	}

	ix.mu.RLock()
	snap := snapshot{
		Version:    snapshotVersion,
		Dimensions: ix.cfg.Dimensions,
		Structure:  ix.backing.kind(),
		Migrations: ix.migrations,
		Entries:    append([]Entry(nil), ix.entries...),
	}
	ix.mu.RUnlock()

	if dir := filepath.Dir(ix.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("index: create snapshot dir: %w", err)
		}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("index: marshal snapshot: %w", err)
	}

	tmp := ix.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("index: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, ix.cfg.Path); err != nil {
		return fmt.Errorf("index: rename snapshot: %w", err)
	}
	return nil
}

// Load restores index state from the configured path. A missing snapshot is
// not an error; the index simply starts empty. An IVF-tagged snapshot is
// rebuilt into a freshly trained IVF structure regardless of entry count, so
// the monotonic upgrade survives restarts.
func (ix *Index) Load() error {
	if ix.cfg.Path == "" {
		return nil
	}

	data, err := os.ReadFile(ix.cfg.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("index: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("index: parse snapshot: %w", err)
	}
	if snap.Dimensions != ix.cfg.Dimensions {
		return fmt.Errorf("index: snapshot has %d dimensions, index expects %d", snap.Dimensions, ix.cfg.Dimensions)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = snap.Entries
	ix.migrations = snap.Migrations
	if snap.Structure == kindIVF && len(ix.entries) > 0 {
		ix.backing = buildIVF(ix.entries)
	} else {
		ix.backing = &flat{}
		// A flat snapshot may already be at or past the threshold if the
		// process crashed between insert and rebuild; settle it now.
		ix.maybeMigrateLocked()
	}
	return nil
}
