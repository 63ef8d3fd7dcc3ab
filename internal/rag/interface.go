// Package rag defines the retrieval-augmented generation core: the chunk and
// point data model, the Embedder and VectorIndex contracts, the Qdrant and
// in-memory index implementations, and the retrieval pipeline that turns a
// question into prompt context.
//
// Public index operations never return backend errors across their boundary
// unless documented: write and read paths degrade to a false/empty result and
// log the cause, so a failing backend yields "no context" rather than a
// failed request.
package rag

import (
	"context"
	"strconv"
	"time"
)

// Payload keys written on every point.
const (
	// KeyText holds the chunk text.
	KeyText = "text"
	// KeySource holds the originating file identifier.
	KeySource = "source"
	// KeyPage holds the page number, -1 when unknown.
	KeyPage = "page"
	// KeyCourseID holds the opaque course partition key.
	KeyCourseID = "course_id"
)

// Defaults applied when a chunk lacks provenance.
const (
	// UnknownSource is stored when a chunk has no source.
	UnknownSource = "unknown"
	// UnknownPage is stored when a chunk has no page.
	UnknownPage = -1
)

// Chunk is a contiguous slice of a source document with its provenance.
// Chunks are immutable once produced by the chunker.
type Chunk struct {
	// Text is the chunk content. Never empty for chunker output.
	Text string
	// Source is the originating file identifier (base name).
	Source string
	// Page is the 1-based page number, or UnknownPage.
	Page int
	// Metadata holds pass-through fields merged into the point payload.
	Metadata map[string]any
}

// Payload is the non-vector data attached to a stored point.
type Payload map[string]any

// textKeys lists the payload keys that may carry chunk text, in priority order.
var textKeys = []string{KeyText, "page_content", "content"}

// Text returns the first non-empty value among the text, page_content and
// content keys. Points written by older pipelines used different key names.
func (p Payload) Text() string {
	for _, k := range textKeys {
		if s := p.String(k); s != "" {
			return s
		}
	}
	return ""
}

// String returns the string value stored at key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer value stored at key, or fallback if absent or not numeric.
func (p Payload) Int(key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		return int(v)
	case float32:
		return int(v)
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// Hit is a single search result.
type Hit struct {
	// ID is the point identifier.
	ID string `json:"id"`
	// Text is the stored chunk text.
	Text string `json:"text"`
	// Source is the originating file identifier.
	Source string `json:"source"`
	// Page is the page number, -1 if unknown.
	Page int `json:"page"`
	// CourseID is the partition key, empty for globally scoped points.
	CourseID string `json:"course_id,omitempty"`
	// Score is the cosine similarity to the query vector.
	Score float32 `json:"score"`
	// Metadata holds every payload field not promoted above.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// hitFromPayload promotes the well-known payload fields of a scored point.
func hitFromPayload(id string, score float32, p Payload) Hit {
	h := Hit{
		ID:       id,
		Text:     p.Text(),
		Source:   p.String(KeySource),
		Page:     p.Int(KeyPage, UnknownPage),
		CourseID: p.String(KeyCourseID),
		Score:    score,
	}
	for k, v := range p {
		switch k {
		case KeyText, KeySource, KeyPage, KeyCourseID:
			continue
		}
		if h.Metadata == nil {
			h.Metadata = make(map[string]any)
		}
		h.Metadata[k] = v
	}
	return h
}

// Embedder converts text into fixed-dimension vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Dimension returns the vector length fixed at construction.
	Dimension() int

	// EmbedMany embeds texts in order. It returns nil for empty input and on
	// any backend failure; callers treat nil or a length mismatch as total failure.
	EmbedMany(ctx context.Context, texts []string) [][]float32

	// EmbedOne embeds a single text, returning nil for empty text or on failure.
	EmbedOne(ctx context.Context, text string) []float32
}

// VectorIndex owns a named collection of points partitioned by course_id.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// EnsureCollection creates the collection with cosine distance when absent
	// and reuses it unchanged when present. A dimension mismatch on an existing
	// collection is logged, not repaired.
	EnsureCollection(ctx context.Context, dimension int) error

	// EnsurePayloadIndex creates a keyword index over field if missing.
	// Failures are logged and reflected in PayloadIndexStatus, never returned.
	EnsurePayloadIndex(ctx context.Context, field string)

	// PayloadIndexStatus reports the outcome of every EnsurePayloadIndex call.
	PayloadIndexStatus() []IndexStatus

	// Upsert writes one point per chunk with a non-nil vector, in sequential
	// batches. It reports true only if every batch was acknowledged; batches
	// already written are kept when a later one fails.
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32, courseID string) bool

	// Search returns at most limit hits by descending score, restricted to
	// courseFilter when non-empty. Backend errors yield an empty result.
	Search(ctx context.Context, vector []float32, limit int, courseFilter string) []Hit

	// GetAllByCourse pages through every point of courseID and returns up to
	// limit payloads in storage order. Any page failure yields an empty result.
	GetAllByCourse(ctx context.Context, courseID string, limit int) []Payload

	// DeleteByCourse removes every point of courseID.
	DeleteByCourse(ctx context.Context, courseID string) error

	// Count returns the number of points for courseID, or all points when empty.
	Count(ctx context.Context, courseID string) (uint64, error)

	// Reset drops and recreates the collection. Maintenance only; never
	// called from a steady-state path.
	Reset(ctx context.Context, dimension int) error

	// Close releases backend resources.
	Close() error
}

// IndexStatus is the observable state of one payload index.
type IndexStatus struct {
	// Field is the indexed payload field.
	Field string `json:"field"`
	// Ready is true once the index is known to exist.
	Ready bool `json:"ready"`
	// Error holds the last creation failure, empty when Ready.
	Error string `json:"error,omitempty"`
	// CheckedAt is when the status was last updated.
	CheckedAt time.Time `json:"checked_at"`
}

// Prepare readies idx for steady-state use: ensures the collection exists with
// the embedder's dimension and requests the course_id payload index.
func Prepare(ctx context.Context, idx VectorIndex, dimension int) error {
	if err := idx.EnsureCollection(ctx, dimension); err != nil {
		return err
	}
	idx.EnsurePayloadIndex(ctx, KeyCourseID)
	return nil
}
