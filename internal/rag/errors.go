package rag

import "errors"

var (
	// ErrQdrantUnreachable is returned when the startup health check exhausts its retries.
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	// ErrDimensionMismatch is returned when a vector does not match the collection size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDimensionUnknown is returned when the embedder self-test cannot determine
	// the vector dimension.
	ErrDimensionUnknown = errors.New("embedding dimension unknown")
	// ErrEmbeddingFailed marks a query or batch of chunks that could not be embedded.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrEmptyCourse is returned by operations that require a course id.
	ErrEmptyCourse = errors.New("course id is required")
)
