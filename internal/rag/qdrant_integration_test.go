//go:build integration

package rag

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQdrantIndex_Integration exercises the index against a live Qdrant.
//
// Run with:
//
//	docker run -p 6334:6334 qdrant/qdrant
//	go test -tags=integration -run TestQdrantIndex_Integration ./internal/rag/
func TestQdrantIndex_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p, err := strconv.Atoi(os.Getenv("QDRANT_PORT")); err == nil {
		port = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	idx, err := NewQdrantIndex(ctx, &QdrantConfig{
		Host:          host,
		Port:          port,
		Collection:    "chatedu-it-" + uuid.NewString()[:8],
		BatchSize:     50,
		HealthTimeout: 5 * time.Second,
	}, discardLogger())
	if err != nil {
		t.Skipf("qdrant not reachable at %s:%d: %v", host, port, err)
	}
	t.Cleanup(func() {
		_ = idx.client.DeleteCollection(context.Background(), idx.Collection())
		_ = idx.Close()
	})

	require.NoError(t, Prepare(ctx, idx, testDim))
	require.NoError(t, Prepare(ctx, idx, testDim), "ensure is idempotent")

	const k = 130
	chunks := make([]Chunk, k)
	vecs := make([][]float32, k)
	for i := range chunks {
		chunks[i] = Chunk{Text: fmt.Sprintf("chunk %d", i), Source: "it.pdf", Page: i + 1}
		vecs[i] = []float32{0, 1, 0, 0}
	}
	vecs[42] = []float32{1, 0, 0, 0}
	require.True(t, idx.Upsert(ctx, chunks, vecs, "101"))
	require.True(t, idx.Upsert(ctx, chunks[:3], vecs[:3], "202"))

	hits := idx.Search(ctx, []float32{1, 0, 0, 0}, 1, "101")
	require.Len(t, hits, 1)
	assert.Equal(t, "chunk 42", hits[0].Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)

	for _, h := range idx.Search(ctx, []float32{0, 1, 0, 0}, 50, "202") {
		assert.Equal(t, "202", h.CourseID)
	}

	all := idx.GetAllByCourse(ctx, "101", 1000)
	assert.Len(t, all, k)
	assert.Empty(t, idx.GetAllByCourse(ctx, "999", 1000))

	n, err := idx.Count(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, uint64(k), n)

	require.NoError(t, idx.DeleteByCourse(ctx, "101"))
	n, err = idx.Count(ctx, "101")
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, st := range idx.PayloadIndexStatus() {
		assert.True(t, st.Ready, st.Field)
	}
}
