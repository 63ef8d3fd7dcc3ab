package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/chatedu-go/internal/ingestion"
	"github.com/54b3r/chatedu-go/internal/logging"
)

// NewIngestCmd constructs the `chatedu ingest` command, which splits, embeds
// and stores course documents in the vector index.
func NewIngestCmd() *cobra.Command {
	var (
		courseIDs []string
		dir       string
		replace   bool
		watch     bool
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest course documents into the vector index",
		Long: `Split course PDFs into chunks, embed them and store them under their course id.

Without file arguments every sub-directory of PDF_DIR is one course whose id
is the folder name. Each course is ingested independently: a failing course is
reported and the rest continue. With file arguments exactly one --course must
name the course they belong to.

Environment variables:
  PDF_DIR              Course root directory (default: ./data)
  QDRANT_MODE          memory or url (default: memory, url when QDRANT_HOST is set)
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: chat-edu)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure (default: ollama)
  CHUNK_SIZE           Characters per chunk (default: 2000)
  CHUNK_OVERLAP        Characters shared by consecutive chunks (default: 200)
  CHATEDU_DB           Registry database path, or "disabled"

Examples:
  chatedu ingest
  chatedu ingest --course 101 --replace
  chatedu ingest --course 101 ./notas/aula1.pdf ./notas/aula2.pdf
  chatedu ingest --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(args) > 0 && len(courseIDs) != 1 {
				return fmt.Errorf("ingest: file arguments require exactly one --course")
			}
			if watch && len(args) > 0 {
				return fmt.Errorf("ingest: --watch cannot be combined with file arguments")
			}

			b, err := buildBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer b.Close()
			if dir != "" {
				b.rt.PDFDir = dir
			}
			if b.qdrant == nil && !watch {
				log.Warn("ingest: in-memory index is discarded on exit; set QDRANT_MODE=url to persist")
			}

			if len(args) > 0 {
				p, err := b.pipeline(log)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				if !p.Ingest(ctx, args, courseIDs[0]) {
					return fmt.Errorf("ingest: course %s: not every chunk was stored", courseIDs[0])
				}
				log.Info("ingestion complete", slog.String("course_id", courseIDs[0]), slog.Int("files", len(args)))
				return nil
			}

			registry := openRegistry(b.rt, log)
			if registry != nil {
				defer func() { _ = registry.Close() }()
			}
			runner, err := b.runner(registryOrNil(registry), nil, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var results []ingestion.Result
			if len(courseIDs) > 0 {
				results, err = runner.Run(ctx, courseIDs, replace)
			} else {
				results, err = runner.RunAll(ctx, replace)
			}
			printResults(cmd, results)

			if watch {
				if err != nil {
					log.Warn("ingest: initial run had failures, watching anyway", slog.Any("error", err))
				}
				w := ingestion.NewWatcher(runner, debounce, log)
				w.OnResult = func(r ingestion.Result) { printResults(cmd, []ingestion.Result{r}) }
				log.Info("watching for course changes", slog.String("dir", b.rt.PDFDir))
				return w.Run(ctx)
			}
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&courseIDs, "course", "c", nil, "Course id to ingest (repeatable; default: every course folder)")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Course root directory (overrides PDF_DIR)")
	cmd.Flags().BoolVar(&replace, "replace", false, "Delete each course's stored chunks before ingesting")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and re-ingest a course when its files change")
	cmd.Flags().DurationVar(&debounce, "debounce", ingestion.DefaultDebounce, "Quiet period before a changed course is re-ingested")

	return cmd
}

// printResults writes one line per course run.
func printResults(cmd *cobra.Command, results []ingestion.Result) {
	out := cmd.OutOrStdout()
	for _, r := range results {
		status := "ok"
		if !r.OK {
			status = "FAILED: " + r.Err.Error()
		}
		fmt.Fprintf(out, "%-20s docs=%-4d chunks=%-6d %6s  %s\n",
			r.CourseID, r.Documents, r.Chunks, r.Duration.Round(time.Millisecond), status)
	}
}
