package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/chatedu-go/internal/chunker"
	"github.com/54b3r/chatedu-go/internal/config"
	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/embedder"
	"github.com/54b3r/chatedu-go/internal/ingestion"
	"github.com/54b3r/chatedu-go/internal/provider"
	"github.com/54b3r/chatedu-go/internal/rag"
	"github.com/54b3r/chatedu-go/internal/server"
	"github.com/54b3r/chatedu-go/internal/store"
)

// dbDisabled turns the registry off when set as CHATEDU_DB.
const dbDisabled = "disabled"

// backend bundles the retrieval components every command builds the same way.
type backend struct {
	rt       config.Runtime
	embedder *embedder.Service
	index    rag.VectorIndex
	// qdrant is the concrete index in url mode, nil in memory mode.
	qdrant *rag.QdrantIndex
}

// Close releases the index connection.
func (b *backend) Close() {
	if b.index != nil {
		_ = b.index.Close()
	}
}

// buildBackend resolves the runtime config, runs the embedder self-test,
// connects the vector index and prepares the collection for the embedder's
// dimension. Any failure aborts startup.
func buildBackend(ctx context.Context, log *slog.Logger) (*backend, error) {
	rt, err := config.RuntimeFromEnv()
	if err != nil {
		return nil, err
	}

	emb, err := buildEmbedder(ctx, rt, log)
	if err != nil {
		return nil, err
	}

	b := &backend{rt: rt, embedder: emb}
	switch rt.QdrantMode {
	case config.ModeURL:
		q, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
			Host:           rt.QdrantHost,
			Port:           rt.QdrantPort,
			Collection:     rt.Collection,
			APIKey:         rt.QdrantAPIKey,
			UseTLS:         rt.QdrantTLS,
			RequestTimeout: rt.SearchTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", rt.QdrantHost, rt.QdrantPort, err)
		}
		b.index, b.qdrant = q, q
		log.Info("qdrant index connected",
			slog.String("host", rt.QdrantHost),
			slog.Int("port", rt.QdrantPort),
			slog.String("collection", rt.Collection),
		)
	default:
		b.index = rag.NewMemoryIndex(log)
		log.Info("in-memory index selected", slog.String("collection", rt.Collection))
	}

	if err := rag.Prepare(ctx, b.index, emb.Dimension()); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to prepare collection %q: %w", rt.Collection, err)
	}
	return b, nil
}

// buildEmbedder validates the embedding settings and constructs the service.
func buildEmbedder(ctx context.Context, rt config.Runtime, log *slog.Logger) (*embedder.Service, error) {
	settings, err := embedder.ValidateForRAG(log)
	if err != nil {
		return nil, err
	}
	be, err := embedder.NewBackend(settings)
	if err != nil {
		return nil, err
	}
	emb, err := embedder.New(ctx, be, embedder.Options{
		Timeout: rt.EmbedTimeout,
		Model:   settings.Model,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("embedder %s/%s: %w", settings.Backend, settings.Model, err)
	}
	return emb, nil
}

// retriever builds the query-side pipeline over b.
func (b *backend) retriever(log *slog.Logger) (*rag.Retriever, error) {
	r, err := rag.NewRetriever(b.embedder, b.index, b.rt.RetrievalLimit, log)
	if err != nil {
		return nil, err
	}
	return r.WithSearchTimeout(b.rt.SearchTimeout), nil
}

// pipeline builds the split, embed and upsert pipeline over b.
func (b *backend) pipeline(log *slog.Logger) (*ingestion.Pipeline, error) {
	split := chunker.New(chunker.Config{ChunkSize: b.rt.ChunkSize, ChunkOverlap: b.rt.ChunkOverlap}, log)
	return ingestion.NewPipeline(split, b.embedder, b.index, log)
}

// runner builds the ingestion runner over the PDF directory. registry and reg
// may be nil.
func (b *backend) runner(registry store.Registry, reg prometheus.Registerer, log *slog.Logger) (*ingestion.Runner, error) {
	p, err := b.pipeline(log)
	if err != nil {
		return nil, err
	}
	return ingestion.NewRunner(p, courses.NewDirLister(b.rt.PDFDir), registry, ingestion.NewMetrics(reg), log)
}

// ingestIfMemory fills an in-memory index from PDF_DIR. Per-course failures
// are logged; only a runner construction error is returned. It does nothing
// when b is backed by Qdrant.
func (b *backend) ingestIfMemory(ctx context.Context, registry store.Registry, reg prometheus.Registerer, log *slog.Logger) error {
	if b.qdrant != nil {
		return nil
	}
	runner, err := b.runner(registry, reg, log)
	if err != nil {
		return err
	}
	log.Info("memory mode: ingesting course folders", slog.String("dir", b.rt.PDFDir))
	if _, err := runner.RunAll(ctx, false); err != nil {
		log.Warn("memory mode: some courses failed to ingest", slog.Any("error", err))
	}
	return nil
}

// openRegistry opens the SQLite registry named by rt.DBPath. The registry is
// optional: failures are logged and a nil store is returned.
func openRegistry(rt config.Runtime, log *slog.Logger) *store.SQLiteStore {
	path := rt.DBPath
	if path == dbDisabled {
		log.Info("registry: disabled via CHATEDU_DB=disabled")
		return nil
	}
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			log.Warn("registry: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	s, err := store.Open(path)
	if err != nil {
		log.Warn("registry: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("registry: store opened", slog.String("path", path))
	return s
}

// registryOrNil avoids storing a typed nil *SQLiteStore in the interface.
func registryOrNil(s *store.SQLiteStore) store.Registry {
	if s == nil {
		return nil
	}
	return s
}

// buildPingers assembles the readiness probes for the chat backend and the
// vector index.
func buildPingers(chatModel model.BaseChatModel, cfg *provider.Config, b *backend) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(chatModel, cfg.HealthCheck(), string(cfg.Backend)),
		server.NewIndexPinger(b.index),
	}
	if b.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(b.qdrant.Client()))
	}
	return pingers
}
