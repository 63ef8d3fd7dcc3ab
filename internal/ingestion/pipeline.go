// Package ingestion implements the course document ingestion pipeline.
// It splits course files into chunks, embeds every chunk in one call, and
// upserts the results into the vector index under the course's partition.
// The pipeline is invoked by `chatedu ingest`, by the directory watcher, and
// by `chatedu serve` at startup when the index is in memory mode.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/rag"
)

// Splitter turns a file into chunks. *chunker.Chunker satisfies it.
type Splitter interface {
	SplitFile(ctx context.Context, path string) []rag.Chunk
}

// Pipeline orchestrates the split, embed, and upsert flow for a set of files.
type Pipeline struct {
	// splitter loads and chunks each source file.
	splitter Splitter

	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// index persists the embedded chunks.
	index rag.VectorIndex

	log *slog.Logger
}

// Result summarises one IngestCourse call.
type Result struct {
	// CourseID is the partition written to.
	CourseID string `json:"course_id"`
	// Dir is the directory the documents were read from.
	Dir string `json:"dir,omitempty"`
	// Documents is the number of files considered.
	Documents int `json:"documents"`
	// Chunks is the number of chunks produced.
	Chunks int `json:"chunks"`
	// Replace is true when the course's points were deleted first.
	Replace bool `json:"replace"`
	// OK reports whether every chunk was embedded and written.
	OK bool `json:"ok"`
	// Err holds the failure cause when OK is false.
	Err error `json:"-"`
	// StartedAt and Duration time the run.
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// NewPipeline constructs a Pipeline from the provided dependencies.
func NewPipeline(splitter Splitter, embedder rag.Embedder, index rag.VectorIndex, log *slog.Logger) (*Pipeline, error) {
	if splitter == nil {
		return nil, fmt.Errorf("ingestion: splitter must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{splitter: splitter, embedder: embedder, index: index, log: log}, nil
}

// Ingest splits every path, embeds all chunks in a single call, and upserts
// them under courseID (empty means global). Sources producing no chunks are
// logged and skipped. It returns false when nothing was chunked, when
// embedding failed (the index is not touched), or when any upsert batch
// failed.
func (p *Pipeline) Ingest(ctx context.Context, paths []string, courseID string) bool {
	_, err := p.ingest(ctx, paths, courseID)
	return err == nil
}

// IngestCourse ingests every document in dir under courseID. When replace is
// set, the course's existing points are deleted so chunks of removed or
// edited files do not linger. The delete happens only after every chunk has
// been embedded, so a failed embedding run leaves the course as it was. A
// replace run over a folder with no documents left clears the course.
func (p *Pipeline) IngestCourse(ctx context.Context, dir, courseID string, replace bool) Result {
	res := Result{CourseID: courseID, Dir: dir, Replace: replace, StartedAt: time.Now()}
	finish := func(err error) Result {
		res.Err = err
		res.OK = err == nil
		res.Duration = time.Since(res.StartedAt)
		return res
	}

	if courseID == "" {
		return finish(rag.ErrEmptyCourse)
	}
	docs, err := courses.Documents(dir)
	if err != nil {
		return finish(err)
	}
	res.Documents = len(docs)
	if len(docs) == 0 {
		if !replace {
			return finish(fmt.Errorf("ingestion: no documents in %s", dir))
		}
		return finish(p.clearCourse(ctx, courseID))
	}

	chunks, vectors, err := p.prepare(ctx, docs, courseID)
	res.Chunks = len(chunks)
	if err != nil {
		return finish(err)
	}
	if replace {
		if err := p.clearCourse(ctx, courseID); err != nil {
			return finish(err)
		}
	}
	return finish(p.write(ctx, chunks, vectors, courseID))
}

func (p *Pipeline) clearCourse(ctx context.Context, courseID string) error {
	if err := p.index.DeleteByCourse(ctx, courseID); err != nil {
		return fmt.Errorf("ingestion: replace %s: %w", courseID, err)
	}
	p.log.Info("ingestion: existing course points deleted", slog.String("course_id", courseID))
	return nil
}

// ingest is Ingest that also reports the chunk count and the failure cause.
func (p *Pipeline) ingest(ctx context.Context, paths []string, courseID string) (int, error) {
	chunks, vectors, err := p.prepare(ctx, paths, courseID)
	if err != nil {
		return len(chunks), err
	}
	return len(chunks), p.write(ctx, chunks, vectors, courseID)
}

// prepare splits paths and embeds every chunk in one call. The index is not
// touched.
func (p *Pipeline) prepare(ctx context.Context, paths []string, courseID string) ([]rag.Chunk, [][]float32, error) {
	log := p.log.With(slog.String("course_id", courseID))

	var chunks []rag.Chunk
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return chunks, nil, err
		}
		got := p.splitter.SplitFile(ctx, path)
		if len(got) == 0 {
			log.Warn("ingestion: source produced no chunks, skipping", slog.String("path", path))
			continue
		}
		meta := InferMetadata(path)
		for i := range got {
			got[i].Metadata = withDocMeta(got[i].Metadata, meta)
		}
		log.Debug("ingestion: source chunked", slog.String("path", path), slog.Int("chunks", len(got)))
		chunks = append(chunks, got...)
	}
	if len(chunks) == 0 {
		return nil, nil, fmt.Errorf("ingestion: no chunks produced from %d sources", len(paths))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors := p.embedder.EmbedMany(ctx, texts)
	if len(vectors) != len(chunks) {
		return chunks, nil, fmt.Errorf("ingestion: %w: got %d vectors for %d chunks", rag.ErrEmbeddingFailed, len(vectors), len(chunks))
	}
	return chunks, vectors, nil
}

func (p *Pipeline) write(ctx context.Context, chunks []rag.Chunk, vectors [][]float32, courseID string) error {
	if !p.index.Upsert(ctx, chunks, vectors, courseID) {
		return fmt.Errorf("ingestion: upsert failed for %d chunks", len(chunks))
	}
	p.log.Info("ingestion: chunks written", slog.String("course_id", courseID), slog.Int("chunks", len(chunks)))
	return nil
}

// withDocMeta adds the inferred title and doc type to a chunk's metadata
// without overwriting keys the splitter already set.
func withDocMeta(md map[string]any, meta InferredMetadata) map[string]any {
	if md == nil {
		md = make(map[string]any, 2)
	}
	if _, ok := md["title"]; !ok && meta.Title != "" {
		md["title"] = meta.Title
	}
	if _, ok := md["doc_type"]; !ok {
		md["doc_type"] = meta.DocType
	}
	return md
}
