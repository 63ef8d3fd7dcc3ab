package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/logging"
	"github.com/54b3r/chatedu-go/internal/mcp"
)

// NewMCPCmd constructs the `chatedu mcp` command, which serves the course
// index to an MCP client over stdio.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve course search tools over MCP (stdio)",
		Long: `Serve the course index to an MCP client over stdin/stdout.

Tools:
  search_course    semantic search, optionally within one course
  list_courses     course folders with stored chunk counts
  course_content   stored chunks of one course

Logs go to stderr. With QDRANT_MODE=memory the course folders under PDF_DIR
are ingested before the server starts.

Example client entry:
  {"command": "chatedu", "args": ["mcp"], "env": {"QDRANT_MODE": "url"}}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			b, err := buildBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer b.Close()

			if err := b.ingestIfMemory(ctx, nil, nil, log); err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			retriever, err := b.retriever(log)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			s, err := mcp.NewServer(mcp.Config{
				Retriever: retriever,
				Content:   b.index,
				Courses:   courses.NewDirLister(b.rt.PDFDir),
				Counter:   b.index,
				Logger:    log,
			})
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}

			log.Info("mcp: serving over stdio")
			return s.Run(ctx)
		},
	}
}
