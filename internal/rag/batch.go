package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultBatchSize is the number of points submitted per write request.
const DefaultBatchSize = 100

// point is the backend-neutral unit handed to a pointWriter.
type point struct {
	id      string
	vector  []float32
	payload Payload
}

// pointWriter submits one batch as a single write and returns only after the
// backend acknowledged it.
type pointWriter func(ctx context.Context, batch []point) error

// newPayload merges chunk metadata with the well-known fields. The well-known
// fields always win over metadata keys of the same name.
func newPayload(c Chunk, courseID string) Payload {
	p := make(Payload, len(c.Metadata)+4)
	for k, v := range c.Metadata {
		p[k] = normalizeValue(v)
	}
	source := c.Source
	if source == "" {
		source = UnknownSource
	}
	page := c.Page
	if page == 0 {
		page = UnknownPage
	}
	p[KeyText] = c.Text
	p[KeySource] = source
	p[KeyPage] = page
	if courseID != "" {
		p[KeyCourseID] = courseID
	} else {
		delete(p, KeyCourseID)
	}
	return p
}

// normalizeValue reduces metadata values to the scalar kinds every backend
// can store.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int, int64, float64:
		return t
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return fmt.Sprint(t)
	}
}

// upsertBatches partitions chunks into batches of batchSize and hands each to
// write in order, waiting for each before starting the next. Chunks whose
// vector is nil are skipped. A failed batch marks the whole call as failed but
// the remaining batches are still attempted; nothing is rolled back.
func upsertBatches(ctx context.Context, log *slog.Logger, chunks []Chunk, vectors [][]float32, courseID string, batchSize int, write pointWriter) bool {
	if len(chunks) == 0 || len(vectors) == 0 {
		log.Warn("upsert: nothing to write", slog.Int("chunks", len(chunks)), slog.Int("vectors", len(vectors)))
		return false
	}
	if len(chunks) != len(vectors) {
		log.Error("upsert: chunk and vector counts differ",
			slog.Int("chunks", len(chunks)),
			slog.Int("vectors", len(vectors)),
		)
		return false
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	ok := true
	written := 0
	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			log.Error("upsert: aborted", slog.Int("offset", start), slog.Any("error", err))
			return false
		}
		end := min(start+batchSize, len(chunks))

		batch := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			if vectors[i] == nil {
				log.Warn("upsert: skipping chunk without vector",
					slog.Int("index", i),
					slog.String("source", chunks[i].Source),
				)
				continue
			}
			batch = append(batch, point{
				id:      uuid.NewString(),
				vector:  vectors[i],
				payload: newPayload(chunks[i], courseID),
			})
		}
		if len(batch) == 0 {
			continue
		}

		if err := write(ctx, batch); err != nil {
			ok = false
			log.Error("upsert: batch failed",
				slog.String("course_id", courseID),
				slog.Int("from", start),
				slog.Int("to", end),
				slog.Any("error", err),
			)
			continue
		}
		written += len(batch)
		log.Debug("upsert: batch written",
			slog.String("course_id", courseID),
			slog.Int("from", start),
			slog.Int("to", end),
			slog.Int("points", len(batch)),
		)
	}

	if written == 0 {
		log.Warn("upsert: no points written", slog.String("course_id", courseID))
		return false
	}
	return ok
}
