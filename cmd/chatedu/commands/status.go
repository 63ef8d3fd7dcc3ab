package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/logging"
	"github.com/54b3r/chatedu-go/internal/provider"
	"github.com/54b3r/chatedu-go/internal/server"
	"github.com/54b3r/chatedu-go/internal/store"
)

// statusProbeTimeout bounds each dependency probe.
const statusProbeTimeout = 10 * time.Second

// NewStatusCmd constructs the `chatedu status` command, which reports
// dependency readiness, per-course chunk counts and recent ingestion runs.
func NewStatusCmd() *cobra.Command {
	var check bool
	var runs int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show dependency health, course chunk counts and recent ingestion runs",
		Long: `Probe the chat backend and the vector index, then list every course folder
with its stored chunk count and the most recent ingestion runs from the
registry.

With --check nothing is printed; the exit status is non-zero when any
dependency is not ready, for use as a container health check.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			b, err := buildBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer b.Close()

			pingers := buildPingers(chatModel, providerCfg, b)
			if check {
				return server.NewMultiPinger(pingers...).Ping(ctx)
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer out.Flush()

			fmt.Fprintf(out, "provider\t%s (%s)\n", providerCfg.Backend, providerCfg.ModelName())
			fmt.Fprintf(out, "index\t%s collection %q\n", b.rt.QdrantMode, b.rt.Collection)
			fmt.Fprintf(out, "embedding dimension\t%d\n\n", b.embedder.Dimension())

			fmt.Fprintln(out, "DEPENDENCY\tSTATUS\tLATENCY")
			for _, r := range server.Probe(ctx, statusProbeTimeout, pingers...) {
				status := "ok"
				if !r.OK {
					status = "FAILED: " + r.Error
				}
				fmt.Fprintf(out, "%s\t%s\t%dms\n", r.Name, status, r.LatencyMS)
			}

			registry := openRegistry(b.rt, log)
			if registry != nil {
				defer func() { _ = registry.Close() }()
			}

			list, err := courses.NewDirLister(b.rt.PDFDir).List()
			if err != nil {
				fmt.Fprintf(out, "\ncourses\tunavailable: %v\n", err)
			} else {
				onDisk := make(map[string]bool, len(list))
				fmt.Fprintln(out, "\nCOURSE\tNAME\tDOCUMENTS\tCHUNKS\tLAST INGESTED")
				for _, c := range list {
					onDisk[c.ID] = true
					chunks := "?"
					if n, err := b.index.Count(ctx, c.ID); err == nil {
						chunks = fmt.Sprint(n)
					}
					fmt.Fprintf(out, "%s\t%s\t%d\t%s\t%s\n", c.ID, c.Name, len(c.Documents), chunks, lastIngested(ctx, registry, c.ID))
				}
				if registry != nil {
					known, err := registry.Courses(ctx)
					if err != nil {
						return fmt.Errorf("status: %w", err)
					}
					for _, c := range known {
						if !onDisk[c.ID] {
							fmt.Fprintf(out, "%s\t%s\t-\t%d\tfolder removed, last ingested %s\n",
								c.ID, c.Name, c.Chunks, c.LastIngestedAt.Format(time.DateTime))
						}
					}
				}
			}

			if registry == nil {
				return nil
			}
			recent, err := registry.RecentRuns(ctx, "", runs)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			fmt.Fprintln(out, "\nRUN\tCOURSE\tFINISHED\tDOCS\tCHUNKS\tRESULT")
			for _, r := range recent {
				result := "ok"
				if !r.OK {
					result = "failed: " + r.Error
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.CourseID, r.FinishedAt.Format(time.DateTime), r.Documents, r.Chunks, result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Only probe dependencies and exit non-zero when any is not ready")
	cmd.Flags().IntVar(&runs, "runs", 10, "Number of recent ingestion runs to show")

	return cmd
}

// lastIngested renders the registry's last successful ingestion of id.
func lastIngested(ctx context.Context, registry *store.SQLiteStore, id string) string {
	if registry == nil {
		return "-"
	}
	c, err := registry.Course(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "never"
	case err != nil:
		return "?"
	default:
		return c.LastIngestedAt.Format(time.DateTime)
	}
}
