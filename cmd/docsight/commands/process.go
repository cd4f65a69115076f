package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsight/docsight-go/internal/logging"
)

// NewProcessCmd constructs the `docsight process` command, which ingests
// local text files into the document store without running the server.
func NewProcessCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Ingest local text files into the document store",
		Long: `Read extracted document text from local files, persist it, and run the
full processing pipeline (clean, chunk, embed, index) synchronously.

Each file becomes one document named after its base name unless --name is
given (only valid with a single file). The same store, index, and embedding
configuration as 'docsight serve' applies, so documents processed here are
immediately searchable once the server starts.

Examples:
  docsight process lease.txt
  docsight process --name "Q3 Report" extracted/q3.txt
  EMBEDDING_PROVIDER=ollama docsight process contracts/*.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if name != "" && len(args) > 1 {
				return fmt.Errorf("process: --name requires exactly one file")
			}

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			c, err := buildComponents(log)
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			defer c.close(log)

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("process: read %s: %w", path, err)
				}

				docName := name
				if docName == "" {
					docName = filepath.Base(path)
				}

				doc, err := c.store.CreateDocument(ctx, docName, string(data))
				if err != nil {
					return fmt.Errorf("process: create document for %s: %w", path, err)
				}
				if err := c.processor.Process(ctx, doc.ID); err != nil {
					return fmt.Errorf("process: %s: %w", path, err)
				}

				final, err := c.store.GetDocument(ctx, doc.ID)
				if err != nil {
					return fmt.Errorf("process: reload %s: %w", doc.ID, err)
				}
				log.Info("document processed",
					slog.String("id", final.ID),
					slog.String("name", final.Name),
					slog.String("status", string(final.Status)),
					slog.Int("words", final.WordCount),
					slog.Int("pages", final.PageCount),
				)
				fmt.Printf("%s  %s (%d words, %d pages)\n", final.ID, final.Name, final.WordCount, final.PageCount)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name for the document (single file only)")

	return cmd
}
