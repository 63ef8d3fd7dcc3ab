package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/chatedu-go/internal/logging"
)

// NewResetCmd constructs the `chatedu reset-collection` maintenance command.
func NewResetCmd() *cobra.Command {
	var yes bool
	var courseID string

	cmd := &cobra.Command{
		Use:   "reset-collection",
		Short: "Drop and recreate the vector collection, or delete one course",
		Long: `Drop the Qdrant collection and recreate it empty with the current embedder's
dimension. Use this after switching embedding models. With --course only that
course's chunks are deleted and the collection is kept.

This is destructive and requires --yes.

Examples:
  chatedu reset-collection --yes
  chatedu reset-collection --course 101 --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset-collection: refusing to run without --yes")
			}
			ctx := cmd.Context()
			log := logging.New()

			b, err := buildBackend(ctx, log)
			if err != nil {
				return fmt.Errorf("reset-collection: %w", err)
			}
			defer b.Close()
			if b.qdrant == nil {
				return fmt.Errorf("reset-collection: QDRANT_MODE=memory has no persistent collection")
			}

			if courseID != "" {
				if err := b.index.DeleteByCourse(ctx, courseID); err != nil {
					return fmt.Errorf("reset-collection: %w", err)
				}
				log.Info("course deleted", slog.String("course_id", courseID), slog.String("collection", b.rt.Collection))
				fmt.Fprintf(cmd.OutOrStdout(), "deleted course %s from %s\n", courseID, b.rt.Collection)
				return nil
			}

			if err := b.index.Reset(ctx, b.embedder.Dimension()); err != nil {
				return fmt.Errorf("reset-collection: %w", err)
			}
			log.Info("collection reset", slog.String("collection", b.rt.Collection), slog.Int("dimension", b.embedder.Dimension()))
			fmt.Fprintf(cmd.OutOrStdout(), "collection %s recreated (dimension %d)\n", b.rt.Collection, b.embedder.Dimension())
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the destructive operation")
	cmd.Flags().StringVar(&courseID, "course", "", "Delete only this course's chunks")

	return cmd
}
