package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/store"
)

// Runner ingests course folders one at a time. A failing course is recorded
// and logged but never stops the remaining courses.
type Runner struct {
	pipeline *Pipeline
	lister   *courses.DirLister
	registry store.Registry
	metrics  *Metrics
	log      *slog.Logger
}

// NewRunner constructs a Runner. registry and metrics may be nil.
func NewRunner(p *Pipeline, lister *courses.DirLister, registry store.Registry, metrics *Metrics, log *slog.Logger) (*Runner, error) {
	if p == nil {
		return nil, fmt.Errorf("ingestion: pipeline must not be nil")
	}
	if lister == nil {
		return nil, fmt.Errorf("ingestion: course lister must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{pipeline: p, lister: lister, registry: registry, metrics: metrics, log: log}, nil
}

// Lister returns the course lister the runner reads from.
func (r *Runner) Lister() *courses.DirLister { return r.lister }

// RunAll ingests every course under the lister root. It returns one Result
// per course and an error joining every failed course, or nil when all
// succeeded.
func (r *Runner) RunAll(ctx context.Context, replace bool) ([]Result, error) {
	list, err := r.lister.List()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return r.Run(ctx, ids, replace)
}

// Run ingests the named courses in order.
func (r *Runner) Run(ctx context.Context, ids []string, replace bool) ([]Result, error) {
	results := make([]Result, 0, len(ids))
	var failed []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			failed = append(failed, err)
			break
		}
		res := r.RunCourse(ctx, id, replace)
		results = append(results, res)
		if !res.OK {
			failed = append(failed, fmt.Errorf("course %s: %w", id, res.Err))
		}
	}
	return results, errors.Join(failed...)
}

// RunCourse ingests one course folder, records the run, and updates metrics.
func (r *Runner) RunCourse(ctx context.Context, id string, replace bool) Result {
	log := r.log.With(slog.String("course_id", id))

	c, err := r.lister.Course(id)
	var res Result
	if err != nil {
		res = Result{CourseID: id, Replace: replace, StartedAt: time.Now(), Err: err}
	} else {
		res = r.pipeline.IngestCourse(ctx, c.Dir, id, replace)
	}

	r.metrics.observe(res)
	if res.OK {
		log.Info("ingestion: course ingested",
			slog.Int("documents", res.Documents),
			slog.Int("chunks", res.Chunks),
			slog.Duration("duration", res.Duration),
		)
	} else {
		log.Error("ingestion: course failed", slog.Any("error", res.Err))
	}

	if r.registry != nil {
		run := store.Run{
			CourseID:   id,
			StartedAt:  res.StartedAt,
			FinishedAt: res.StartedAt.Add(res.Duration),
			Documents:  res.Documents,
			Chunks:     res.Chunks,
			Replace:    replace,
			OK:         res.OK,
		}
		if res.Err != nil {
			run.Error = res.Err.Error()
		}
		// A registry failure must not turn a written course into a failure.
		if _, err := r.registry.RecordRun(ctx, run, c.Name, c.Dir); err != nil {
			log.Warn("ingestion: could not record run", slog.Any("error", err))
		}
	}
	return res
}
