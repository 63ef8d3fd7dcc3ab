package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/generator"
	"github.com/54b3r/chatedu-go/internal/logging"
	"github.com/54b3r/chatedu-go/internal/mcp"
	"github.com/54b3r/chatedu-go/internal/provider"
	"github.com/54b3r/chatedu-go/internal/rag"
	"github.com/54b3r/chatedu-go/internal/server"
	"github.com/54b3r/chatedu-go/internal/tracing"
)

// NewServeCmd constructs the `chatedu serve` command, which starts the HTTP
// API and mounts the MCP endpoint.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var skipIngest bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chatedu HTTP API",
		Long: `Start the chatedu HTTP API.

Routes:
  POST /api/chat                    answer a question from course context
  GET  /api/retriever/{course_id}   stored chunks of a course
  POST /api/flashcards/{course_id}  generate flashcards for a course
  POST /api/mindmap/{course_id}     generate a mind map for a course
  GET  /api/courses                 course folders under PDF_DIR
  POST /api/login                   LMS login (when a scraper is configured)
  GET  /api/health, /api/ready      liveness and readiness
  GET  /metrics                     Prometheus metrics
  /mcp                              MCP streamable HTTP endpoint

With QDRANT_MODE=memory every course under PDF_DIR is ingested at startup.

Examples:
  chatedu serve
  chatedu serve --port 9090
  MODEL_PROVIDER=groq QDRANT_MODE=url chatedu serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush, ok := tracing.Setup()
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
			)

			b, err := buildBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer b.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			registry := openRegistry(b.rt, log)
			if registry != nil {
				defer func() { _ = registry.Close() }()
			}

			if !skipIngest {
				if err := b.ingestIfMemory(ctx, registryOrNil(registry), reg, log); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			}

			retriever, err := b.retriever(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			deps, err := buildGenerators(retriever, chatModel, providerCfg, b, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			lister := courses.NewDirLister(b.rt.PDFDir)
			deps.Courses = lister

			mcpServer, err := mcp.NewServer(mcp.Config{
				Retriever: retriever,
				Content:   b.index,
				Courses:   lister,
				Counter:   b.index,
				Logger:    log,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create MCP server: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = b.rt.ServerHost
			}
			if !cmd.Flags().Changed("port") {
				port = b.rt.ServerPort
			}

			srv, err := server.New(deps, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         buildPingers(chatModel, providerCfg, b),
				APIKey:          b.rt.APIKey,
				AllowedOrigins:  b.rt.CORSOrigins,
				MetricsRegistry: reg,
				MetricsGatherer: reg,
				MCPHandler:      mcpServer.HTTPHandler(),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: CHATEDU_HOST or 0.0.0.0)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: CHATEDU_PORT or 8000)")
	cmd.Flags().BoolVar(&skipIngest, "skip-ingest", false, "Do not ingest PDF_DIR at startup in memory mode")

	return cmd
}

// buildGenerators wires the answerer, flashcard and mind-map generators.
func buildGenerators(
	retriever *rag.Retriever,
	chatModel model.BaseChatModel,
	cfg *provider.Config,
	b *backend,
	log *slog.Logger,
) (server.Deps, error) {
	answerer, err := generator.NewAnswerer(retriever, chatModel, generator.AnswererConfig{
		Limit:       b.rt.RetrievalLimit,
		Temperature: cfg.Tuning.Temperature,
		MaxTokens:   cfg.Tuning.MaxTokens,
		Timeout:     b.rt.GenerateTimeout,
	}, log)
	if err != nil {
		return server.Deps{}, err
	}
	flashcards, err := generator.NewFlashcards(b.index, chatModel, generator.FlashcardsConfig{
		Timeout: b.rt.GenerateTimeout,
	})
	if err != nil {
		return server.Deps{}, err
	}
	mindMaps, err := generator.NewMindMaps(b.index, chatModel, generator.MindMapsConfig{
		Timeout: b.rt.GenerateTimeout,
	})
	if err != nil {
		return server.Deps{}, err
	}
	return server.Deps{
		Answerer:   answerer,
		Flashcards: flashcards,
		MindMaps:   mindMaps,
		Content:    b.index,
	}, nil
}
