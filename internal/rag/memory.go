package rag

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
)

// memoryScrollPage is the page size used by GetAllByCourse on the memory index.
const memoryScrollPage = 100

// MemoryIndex is an in-process VectorIndex using brute-force cosine
// similarity. It backs QDRANT_MODE=memory for local development and serves
// as the index double in tests. Points live only as long as the process.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	ready     bool
	// order keeps storage order for scrolling; byID maps an id to its slot.
	order []string
	byID  map[string]point

	status indexStatusTracker
	log    *slog.Logger

	// beforeWrite, when set, runs before each batch is applied and can fail it.
	beforeWrite func(batch int) error
	batches     int
}

// NewMemoryIndex constructs an empty MemoryIndex. The collection is absent
// until EnsureCollection is called.
func NewMemoryIndex(log *slog.Logger) *MemoryIndex {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryIndex{byID: make(map[string]point), log: log}
}

// EnsureCollection marks the collection ready with the given dimension. An
// existing collection is reused; a differing dimension is only logged.
func (m *MemoryIndex) EnsureCollection(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("memory index: invalid dimension %d", dimension)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		if m.dimension != dimension {
			m.log.Warn("memory index: existing collection has a different dimension",
				slog.Int("existing", m.dimension),
				slog.Int("requested", dimension),
			)
		}
		return nil
	}
	m.dimension = dimension
	m.ready = true
	return nil
}

// EnsurePayloadIndex records the field as indexed. Filtering is a linear scan
// either way.
func (m *MemoryIndex) EnsurePayloadIndex(_ context.Context, field string) {
	m.status.record(field, nil)
}

// PayloadIndexStatus reports the recorded payload index states.
func (m *MemoryIndex) PayloadIndexStatus() []IndexStatus {
	return m.status.snapshot()
}

// Upsert writes the chunks in sequential batches. See VectorIndex.Upsert.
func (m *MemoryIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32, courseID string) bool {
	return upsertBatches(ctx, m.log, chunks, vectors, courseID, DefaultBatchSize, m.write)
}

// write applies one batch atomically: either every point lands or none does.
func (m *MemoryIndex) write(_ context.Context, batch []point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches++
	if m.beforeWrite != nil {
		if err := m.beforeWrite(m.batches); err != nil {
			return err
		}
	}
	if !m.ready {
		return fmt.Errorf("memory index: collection not created")
	}
	for _, p := range batch {
		if len(p.vector) != m.dimension {
			return fmt.Errorf("%w: got %d, collection has %d", ErrDimensionMismatch, len(p.vector), m.dimension)
		}
	}
	for _, p := range batch {
		if _, exists := m.byID[p.id]; !exists {
			m.order = append(m.order, p.id)
		}
		m.byID[p.id] = point{id: p.id, vector: slices.Clone(p.vector), payload: p.payload}
	}
	return nil
}

// Search scores every candidate point against vector and returns the top
// limit hits by descending cosine similarity.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, limit int, courseFilter string) []Hit {
	if len(vector) == 0 || limit <= 0 {
		return []Hit{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(vector) != m.dimension {
		m.log.Error("memory index: search vector has wrong dimension",
			slog.Int("got", len(vector)),
			slog.Int("want", m.dimension),
		)
		return []Hit{}
	}

	hits := make([]Hit, 0)
	for _, id := range m.order {
		p := m.byID[id]
		if courseFilter != "" && p.payload.String(KeyCourseID) != courseFilter {
			continue
		}
		hits = append(hits, hitFromPayload(p.id, cosine(vector, p.vector), p.payload))
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// GetAllByCourse follows a cursor over the course's points in storage order.
func (m *MemoryIndex) GetAllByCourse(_ context.Context, courseID string, limit int) []Payload {
	if courseID == "" || limit <= 0 {
		return []Payload{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Payload, 0)
	cursor := 0
	for cursor >= 0 && len(out) < limit {
		page, next := m.scrollLocked(courseID, cursor, min(memoryScrollPage, limit-len(out)))
		out = append(out, page...)
		cursor = next
	}
	return out
}

// scrollLocked returns up to size payloads of courseID starting at slot
// offset and the slot to resume from, or -1 when exhausted.
func (m *MemoryIndex) scrollLocked(courseID string, offset, size int) ([]Payload, int) {
	page := make([]Payload, 0, size)
	for i := offset; i < len(m.order); i++ {
		p := m.byID[m.order[i]]
		if p.payload.String(KeyCourseID) != courseID {
			continue
		}
		if len(page) == size {
			return page, i
		}
		page = append(page, clonePayload(p.payload))
	}
	return page, -1
}

// DeleteByCourse removes every point of courseID.
func (m *MemoryIndex) DeleteByCourse(_ context.Context, courseID string) error {
	if courseID == "" {
		return ErrEmptyCourse
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.order[:0]
	for _, id := range m.order {
		if m.byID[id].payload.String(KeyCourseID) == courseID {
			delete(m.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}

// Count returns the number of points for courseID, or all points when empty.
func (m *MemoryIndex) Count(_ context.Context, courseID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if courseID == "" {
		return uint64(len(m.order)), nil
	}
	var n uint64
	for _, id := range m.order {
		if m.byID[id].payload.String(KeyCourseID) == courseID {
			n++
		}
	}
	return n, nil
}

// Reset drops every point and recreates the collection with dimension.
func (m *MemoryIndex) Reset(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("memory index: invalid dimension %d", dimension)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.byID = make(map[string]point)
	m.dimension = dimension
	m.ready = true
	return nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 if either has zero norm.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// clonePayload returns a shallow copy so callers cannot mutate stored points.
func clonePayload(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
