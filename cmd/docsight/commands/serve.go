package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsight/docsight-go/internal/llm"
	"github.com/docsight/docsight-go/internal/logging"
	"github.com/docsight/docsight-go/internal/rag"
	"github.com/docsight/docsight-go/internal/server"
)

// NewServeCmd constructs the `docsight serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docsight HTTP API server",
		Long: `Start the docsight HTTP server on localhost.

The server exposes a REST API for document upload, semantic search, chat,
and insight generation. Without a configured LLM provider it runs in demo
mode with deterministic placeholder insights.

Examples:
  docsight serve
  docsight serve --port 9090
  LLM_PROVIDER=ollama docsight serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("llm_provider", os.Getenv("LLM_PROVIDER")))

			c, err := buildComponents(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer c.close(log)

			svc, err := rag.NewService(c.store, c.embedder, c.index, c.gateway, llm.Params{
				MaxTokens:   envInt("LLM_MAX_TOKENS", 0),
				Temperature: envFloat32("LLM_TEMPERATURE", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: initialise service: %w", err)
			}

			srv, err := server.New(server.Deps{
				Service:   svc,
				Processor: c.processor,
				Store:     c.store,
				Index:     c.index,
				Embedder:  c.embedder,
				Gateway:   c.gateway,
			}, &server.Config{
				Host:             host,
				Port:             port,
				Logger:           log,
				APIKey:           os.Getenv("DOCSIGHT_API_KEY"),
				RateLimit:        float64(envFloat32("RATE_LIMIT_RPS", 0)),
				RateBurst:        envInt("RATE_LIMIT_BURST", 0),
				MaxDocumentBytes: envInt("MAX_DOCUMENT_BYTES", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8900, "TCP port to listen on")

	return cmd
}
