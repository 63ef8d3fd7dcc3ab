package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// scrollPageSize caps the number of points requested per scroll page.
const scrollPageSize = 100

const defaultRequestTimeout = 10 * time.Second

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name (default: chat-edu).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// BatchSize is the number of points per upsert request (default: 100).
	BatchSize int

	// HealthTimeout bounds the startup health check retries (default: 30s).
	HealthTimeout time.Duration

	// RequestTimeout bounds each search, scroll, count, delete and upsert
	// batch (default: 10s).
	RequestTimeout time.Duration
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance over gRPC.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// points is the raw points service, used where the high-level client
	// hides the scroll continuation offset.
	points qdrant.PointsClient

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig

	status indexStatusTracker
	log    *slog.Logger
}

// NewQdrantIndex connects to Qdrant and waits for it to become healthy,
// retrying with exponential backoff. It does not touch the collection; call
// Prepare (or EnsureCollection) before use.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig, log *slog.Logger) (*QdrantIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "chat-edu"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{
		client: client,
		points: client.GetPointsClient(),
		cfg:    cfg,
		log:    log.With(slog.String("collection", cfg.Collection)),
	}
	if err := idx.healthCheckWithRetry(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w at %s:%d: %v", ErrQdrantUnreachable, cfg.Host, cfg.Port, err)
	}
	return idx, nil
}

// Client exposes the underlying client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// Collection returns the collection name this index writes to.
func (q *QdrantIndex) Collection() string { return q.cfg.Collection }

// bounded derives the per-request context. A whole scroll shares one deadline.
func (q *QdrantIndex) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	d := q.cfg.RequestTimeout
	if d <= 0 {
		d = defaultRequestTimeout
	}
	return context.WithTimeout(ctx, d)
}

// healthCheckWithRetry polls HealthCheck with exponential backoff.
// Initial interval 500ms, max interval 10s, bounded by cfg.HealthTimeout.
func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = q.cfg.HealthTimeout

	operation := func() error {
		if _, err := q.client.HealthCheck(ctx); err != nil {
			q.log.Debug("qdrant: health check failed, retrying", slog.Any("error", err))
			return err
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// EnsureCollection creates the collection with cosine distance if it does not
// already exist. An existing collection is reused as-is.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("qdrant: invalid dimension %d", dimension)
	}
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		q.warnOnDimensionMismatch(ctx, dimension)
		q.log.Info("qdrant: reusing existing collection")
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension), //nolint:gosec // dimension checked positive above
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	q.log.Info("qdrant: collection created", slog.Int("dimension", dimension))
	return nil
}

// warnOnDimensionMismatch logs when an existing collection was created with a
// different vector size. It never alters the collection.
func (q *QdrantIndex) warnOnDimensionMismatch(ctx context.Context, dimension int) {
	info, err := q.client.GetCollectionInfo(ctx, q.cfg.Collection)
	if err != nil {
		q.log.Warn("qdrant: could not read collection info", slog.Any("error", err))
		return
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size != 0 && size != uint64(dimension) { //nolint:gosec // dimension is positive
		q.log.Warn("qdrant: existing collection has a different vector size",
			slog.Uint64("existing", size),
			slog.Int("embedder", dimension),
		)
	}
}

// EnsurePayloadIndex creates a keyword index on field unless the collection
// schema already lists it. Failures are logged and recorded, never returned.
func (q *QdrantIndex) EnsurePayloadIndex(ctx context.Context, field string) {
	info, err := q.client.GetCollectionInfo(ctx, q.cfg.Collection)
	if err == nil {
		if _, ok := info.GetPayloadSchema()[field]; ok {
			q.status.record(field, nil)
			return
		}
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.cfg.Collection,
		FieldName:      field,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		q.log.Warn("qdrant: payload index creation failed",
			slog.String("field", field),
			slog.Any("error", err),
		)
		q.status.record(field, err)
		return
	}
	q.log.Info("qdrant: payload index created", slog.String("field", field))
	q.status.record(field, nil)
}

// PayloadIndexStatus reports the recorded payload index states.
func (q *QdrantIndex) PayloadIndexStatus() []IndexStatus {
	return q.status.snapshot()
}

// Upsert writes the chunks in sequential, acknowledged batches.
func (q *QdrantIndex) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32, courseID string) bool {
	return upsertBatches(ctx, q.log, chunks, vectors, courseID, q.cfg.BatchSize, q.write)
}

// write submits one batch with wait=true so the call returns only after the
// points are persisted.
func (q *QdrantIndex) write(ctx context.Context, batch []point) error {
	points := make([]*qdrant.PointStruct, len(batch))
	for i, p := range batch {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.id),
			Vectors: qdrant.NewVectors(p.vector...),
			Payload: qdrant.NewValueMap(p.payload),
		}
	}
	ctx, cancel := q.bounded(ctx)
	defer cancel()
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity search, optionally restricted to one course.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int, courseFilter string) []Hit {
	if len(vector) == 0 || limit <= 0 {
		return []Hit{}
	}
	req := &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)), //nolint:gosec // limit checked positive
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if courseFilter != "" {
		req.Filter = courseMatch(courseFilter)
	}

	ctx, cancel := q.bounded(ctx)
	defer cancel()
	results, err := q.client.Query(ctx, req)
	if err != nil {
		q.log.Error("qdrant: search failed",
			slog.String("course_id", courseFilter),
			slog.Int("limit", limit),
			slog.Any("error", err),
		)
		return []Hit{}
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hitFromPayload(pointIDString(r.GetId()), r.GetScore(), payloadFromQdrant(r.GetPayload())))
	}
	return hits
}

// GetAllByCourse scrolls through the course's points following the
// backend-provided next-page offset until it is exhausted or limit payloads
// were collected. A failure on any page discards everything gathered so far.
func (q *QdrantIndex) GetAllByCourse(ctx context.Context, courseID string, limit int) []Payload {
	if courseID == "" || limit <= 0 {
		return []Payload{}
	}

	ctx, cancel := q.bounded(ctx)
	defer cancel()

	out := make([]Payload, 0)
	var offset *qdrant.PointId
	pages := 0
	for len(out) < limit {
		size := min(scrollPageSize, limit-len(out))
		resp, err := q.points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.cfg.Collection,
			Filter:         courseMatch(courseID),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(size)), //nolint:gosec // size <= scrollPageSize
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			q.log.Error("qdrant: scroll failed, discarding partial result",
				slog.String("course_id", courseID),
				slog.Int("page", pages),
				slog.Int("collected", len(out)),
				slog.Any("error", err),
			)
			return []Payload{}
		}
		pages++
		for _, p := range resp.GetResult() {
			out = append(out, payloadFromQdrant(p.GetPayload()))
		}
		offset = resp.GetNextPageOffset()
		if offset == nil || len(resp.GetResult()) == 0 {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	q.log.Debug("qdrant: scroll complete",
		slog.String("course_id", courseID),
		slog.Int("pages", pages),
		slog.Int("payloads", len(out)),
	)
	return out
}

// DeleteByCourse removes every point whose course_id equals courseID.
func (q *QdrantIndex) DeleteByCourse(ctx context.Context, courseID string) error {
	if courseID == "" {
		return ErrEmptyCourse
	}
	ctx, cancel := q.bounded(ctx)
	defer cancel()
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(courseMatch(courseID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete course %q failed: %w", courseID, err)
	}
	return nil
}

// Count returns the exact number of points for courseID, or all points when empty.
func (q *QdrantIndex) Count(ctx context.Context, courseID string) (uint64, error) {
	req := &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	}
	if courseID != "" {
		req.Filter = courseMatch(courseID)
	}
	ctx, cancel := q.bounded(ctx)
	defer cancel()
	n, err := q.client.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return n, nil
}

// Reset deletes the collection and recreates it empty, then re-requests the
// course_id payload index.
func (q *QdrantIndex) Reset(ctx context.Context, dimension int) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to delete collection: %w", err)
		}
		q.log.Warn("qdrant: collection deleted")
	}
	return Prepare(ctx, q, dimension)
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

// courseMatch builds the conjunctive "course_id equals value" filter.
func courseMatch(courseID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(KeyCourseID, courseID)},
	}
}

// pointIDString renders a point id whether it is a UUID or a legacy numeric id.
func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// payloadFromQdrant converts a Qdrant payload into plain Go values.
func payloadFromQdrant(in map[string]*qdrant.Value) Payload {
	out := make(Payload, len(in))
	for k, v := range in {
		out[k] = valueFromQdrant(v)
	}
	return out
}

// valueFromQdrant converts a single Qdrant value, recursing into lists and structs.
func valueFromQdrant(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		items := k.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueFromQdrant(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return map[string]any(payloadFromQdrant(k.StructValue.GetFields()))
	default:
		return nil
	}
}
