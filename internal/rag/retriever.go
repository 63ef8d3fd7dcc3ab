package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ContextSeparator delimits retrieved chunks in the assembled context.
const ContextSeparator = "\n\n---\n\n"

// NoContextPlaceholder is the context returned when retrieval found nothing.
const NoContextPlaceholder = "Nenhum contexto relevante encontrado."

// Source identifies a retrieved chunk for display.
type Source struct {
	// Source is the originating file identifier.
	Source string `json:"source"`
	// Page is the page number, -1 if unknown.
	Page int `json:"page"`
}

// Retrieval is the outcome of one Retrieve call.
type Retrieval struct {
	// Context is the prompt-ready text: hit texts joined by ContextSeparator,
	// or NoContextPlaceholder when nothing was found.
	Context string
	// Sources lists distinct (source, page) pairs in hit order.
	Sources []Source
	// Hits holds the raw search results.
	Hits []Hit
	// Err is set when the query could not be embedded. It wraps ErrEmbeddingFailed.
	Err error
}

// HasContext reports whether retrieval produced any chunk text.
func (r Retrieval) HasContext() bool { return len(r.Hits) > 0 }

// Retriever turns a question into prompt context by embedding it and searching
// the index, optionally restricted to one course.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// index performs the vector similarity search.
	index VectorIndex

	// defaultLimit is the number of results to return when the caller passes 0.
	defaultLimit int

	// searchTimeout bounds the index search; zero leaves ctx unchanged.
	searchTimeout time.Duration

	log *slog.Logger
}

// NewRetriever constructs a Retriever from the given Embedder and VectorIndex.
// defaultLimit sets the fallback result count when Retrieve is called with limit=0.
func NewRetriever(embedder Embedder, index VectorIndex, defaultLimit int, log *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("rag: index must not be nil")
	}
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{
		embedder:     embedder,
		index:        index,
		defaultLimit: defaultLimit,
		log:          log,
	}, nil
}

// WithSearchTimeout bounds every index search made by r and returns r.
func (r *Retriever) WithSearchTimeout(d time.Duration) *Retriever {
	r.searchTimeout = d
	return r
}

// Index returns the underlying vector index.
func (r *Retriever) Index() VectorIndex { return r.index }

// Retrieve embeds query and returns the assembled context and sources for the
// top results. An empty courseID searches across all courses. If limit is 0
// the default configured at construction time is used.
func (r *Retriever) Retrieve(ctx context.Context, query, courseID string, limit int) Retrieval {
	if limit <= 0 {
		limit = r.defaultLimit
	}

	vec := r.embedder.EmbedOne(ctx, query)
	if vec == nil {
		r.log.Error("rag: query embedding failed", slog.String("course_id", courseID))
		return Retrieval{
			Sources: []Source{},
			Hits:    []Hit{},
			Err:     fmt.Errorf("rag: retrieve: query %w", ErrEmbeddingFailed),
		}
	}

	searchCtx := ctx
	if r.searchTimeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, r.searchTimeout)
		defer cancel()
	}
	hits := r.index.Search(searchCtx, vec, limit, courseID)
	r.log.Debug("rag: retrieved",
		slog.String("course_id", courseID),
		slog.Int("limit", limit),
		slog.Int("hits", len(hits)),
	)
	return Retrieval{
		Context: AssembleContext(hits),
		Sources: DistinctSources(hits),
		Hits:    hits,
	}
}

// AssembleContext joins hit texts with ContextSeparator in the given order,
// which callers keep as descending score. No hits yields NoContextPlaceholder.
func AssembleContext(hits []Hit) string {
	if len(hits) == 0 {
		return NoContextPlaceholder
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return strings.Join(texts, ContextSeparator)
}

// DistinctSources returns the (source, page) pairs of hits without repeats,
// preserving first-seen order.
func DistinctSources(hits []Hit) []Source {
	seen := make(map[Source]struct{}, len(hits))
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		s := Source{Source: h.Source, Page: h.Page}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
