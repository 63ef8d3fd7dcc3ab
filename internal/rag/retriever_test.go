package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns fixed vectors keyed by text and a default otherwise.
type stubEmbedder struct {
	vectors  map[string][]float32
	fallback []float32
	fail     bool
}

func (s *stubEmbedder) Dimension() int { return testDim }

func (s *stubEmbedder) EmbedOne(_ context.Context, text string) []float32 {
	if s.fail || text == "" {
		return nil
	}
	if v, ok := s.vectors[text]; ok {
		return v
	}
	return s.fallback
}

func (s *stubEmbedder) EmbedMany(ctx context.Context, texts []string) [][]float32 {
	if s.fail || len(texts) == 0 {
		return nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.EmbedOne(ctx, t)
	}
	return out
}

func TestRetriever_ScenarioFiveChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := newTestIndex(t)

	chunks := chunksOf(5, "doc")
	emb := &stubEmbedder{vectors: map[string][]float32{
		chunks[0].Text: {0, 1, 0, 0},
		chunks[1].Text: {0, 0, 1, 0},
		chunks[2].Text: {1, 0, 0, 0},
		chunks[3].Text: {0, 0, 0, 1},
		chunks[4].Text: {0, 1, 0, 0},
		"query":        {1, 0, 0, 0},
	}}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	require.True(t, idx.Upsert(ctx, chunks, emb.EmbedMany(ctx, texts), "101"))

	r, err := NewRetriever(emb, idx, 10, discardLogger())
	require.NoError(t, err)

	got := r.Retrieve(ctx, "query", "101", 1)
	require.NoError(t, got.Err)
	require.Len(t, got.Hits, 1)
	assert.Equal(t, "doc chunk 3", got.Hits[0].Text)
	assert.InDelta(t, 1.0, got.Hits[0].Score, 1e-5)
	assert.Equal(t, "doc chunk 3", got.Context)
	assert.Equal(t, []Source{{Source: "doc.pdf", Page: 3}}, got.Sources)
}

func TestRetriever_ContextAssembly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := newTestIndex(t)

	chunks := []Chunk{
		{Text: "best", Source: "a.pdf", Page: 1},
		{Text: "second", Source: "a.pdf", Page: 1},
		{Text: "third", Source: "b.pdf", Page: 4},
	}
	vecs := [][]float32{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}, {0.5, 0.5, 0, 0}}
	require.True(t, idx.Upsert(ctx, chunks, vecs, "101"))

	r, err := NewRetriever(&stubEmbedder{fallback: []float32{1, 0, 0, 0}}, idx, 10, discardLogger())
	require.NoError(t, err)

	got := r.Retrieve(ctx, "anything", "101", 0)
	require.NoError(t, got.Err)
	assert.Equal(t, strings.Join([]string{"best", "second", "third"}, ContextSeparator), got.Context)
	assert.Equal(t, []Source{{Source: "a.pdf", Page: 1}, {Source: "b.pdf", Page: 4}}, got.Sources)
}

func TestRetriever_NoHits(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	r, err := NewRetriever(&stubEmbedder{fallback: []float32{1, 0, 0, 0}}, idx, 10, discardLogger())
	require.NoError(t, err)

	got := r.Retrieve(context.Background(), "q", "999", 5)
	require.NoError(t, got.Err)
	assert.False(t, got.HasContext())
	assert.Equal(t, NoContextPlaceholder, got.Context)
	assert.Empty(t, got.Sources)
}

func TestRetriever_EmbeddingFailed(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	r, err := NewRetriever(&stubEmbedder{fail: true}, idx, 10, discardLogger())
	require.NoError(t, err)

	got := r.Retrieve(context.Background(), "q", "101", 5)
	require.ErrorIs(t, got.Err, ErrEmbeddingFailed)
	assert.Empty(t, got.Context)
	assert.Empty(t, got.Hits)
}

func TestNewRetriever_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewRetriever(nil, newTestIndex(t), 1, nil)
	assert.Error(t, err)
	_, err = NewRetriever(&stubEmbedder{}, nil, 1, nil)
	assert.Error(t, err)
}

func TestDistinctSources(t *testing.T) {
	t.Parallel()
	hits := []Hit{
		{Source: "a", Page: 1},
		{Source: "a", Page: 2},
		{Source: "a", Page: 1},
		{Source: "b", Page: -1},
		{Source: "b", Page: -1},
	}
	assert.Equal(t, []Source{{"a", 1}, {"a", 2}, {"b", -1}}, DistinctSources(hits))
	assert.Empty(t, DistinctSources(nil))
}

// deadlineIndex records whether Search received a context with a deadline.
type deadlineIndex struct {
	*MemoryIndex
	hadDeadline bool
}

func (d *deadlineIndex) Search(ctx context.Context, vector []float32, limit int, course string) []Hit {
	_, d.hadDeadline = ctx.Deadline()
	return d.MemoryIndex.Search(ctx, vector, limit, course)
}

func TestRetriever_SearchTimeout(t *testing.T) {
	t.Parallel()
	idx := &deadlineIndex{MemoryIndex: newTestIndex(t)}
	emb := &stubEmbedder{fallback: []float32{1, 0, 0, 0}}

	r, err := NewRetriever(emb, idx, 3, discardLogger())
	require.NoError(t, err)

	r.Retrieve(context.Background(), "q", "", 0)
	assert.False(t, idx.hadDeadline)

	r.WithSearchTimeout(time.Second).Retrieve(context.Background(), "q", "", 0)
	assert.True(t, idx.hadDeadline)
}
