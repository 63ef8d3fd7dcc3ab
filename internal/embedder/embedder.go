// Package embedder converts text into dense vectors for the RAG pipeline.
//
// A Backend talks to one embedding API (OpenAI, Azure OpenAI, Ollama) and
// returns errors. Service wraps a Backend into a rag.Embedder: it determines
// the vector dimension once at construction, splits large inputs into
// batches, bounds each call with a timeout, and reduces every failure to a
// nil result so callers never see backend errors.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/chatedu-go/internal/rag"
)

// probeText is embedded once at startup to learn the vector dimension.
const probeText = "test"

// DefaultBatchSize is the number of texts sent per backend request.
const DefaultBatchSize = 100

// Backend embeds a batch of texts. The result must be parallel to texts.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes a Service.
type Options struct {
	// BatchSize caps texts per backend request (default: DefaultBatchSize).
	BatchSize int
	// Timeout bounds each backend request; zero means no extra bound.
	Timeout time.Duration
	// Model labels log lines.
	Model string
}

// Service implements rag.Embedder over a Backend.
type Service struct {
	backend Backend
	dim     int
	opts    Options
	log     *slog.Logger
}

var _ rag.Embedder = (*Service)(nil)

// New wraps backend and runs the dimension self-test. A failing self-test is
// returned wrapped in rag.ErrDimensionUnknown; startup must not continue.
func New(ctx context.Context, backend Backend, opts Options, log *slog.Logger) (*Service, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder: backend must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	s := &Service{
		backend: backend,
		opts:    opts,
		log:     log.With(slog.String("embedding_model", opts.Model)),
	}

	vecs, err := s.call(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rag.ErrDimensionUnknown, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: self-test returned %d vectors", rag.ErrDimensionUnknown, len(vecs))
	}
	s.dim = len(vecs[0])
	s.log.Info("embedder: ready", slog.Int("dimension", s.dim))
	return s, nil
}

// Dimension returns the vector length determined at construction.
func (s *Service) Dimension() int { return s.dim }

// EmbedMany embeds texts in order. Empty input, any backend error, a count
// mismatch, or a vector of the wrong length yields nil.
func (s *Service) EmbedMany(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))
		vecs, err := s.call(ctx, texts[start:end])
		if err != nil {
			s.log.Error("embedder: batch failed",
				slog.Int("from", start),
				slog.Int("to", end),
				slog.Any("error", err),
			)
			return nil
		}
		if len(vecs) != end-start {
			s.log.Error("embedder: backend returned wrong number of vectors",
				slog.Int("want", end-start),
				slog.Int("got", len(vecs)),
			)
			return nil
		}
		for i, v := range vecs {
			if len(v) != s.dim {
				s.log.Error("embedder: vector has wrong dimension",
					slog.Int("index", start+i),
					slog.Int("want", s.dim),
					slog.Int("got", len(v)),
				)
				return nil
			}
		}
		out = append(out, vecs...)
	}
	return out
}

// EmbedOne embeds a single text. Empty text or failure yields nil.
func (s *Service) EmbedOne(ctx context.Context, text string) []float32 {
	if text == "" {
		return nil
	}
	vecs := s.EmbedMany(ctx, []string{text})
	if len(vecs) != 1 {
		return nil
	}
	return vecs[0]
}

// call invokes the backend under the configured timeout.
func (s *Service) call(ctx context.Context, texts []string) ([][]float32, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.backend.Embed(ctx, texts)
}
