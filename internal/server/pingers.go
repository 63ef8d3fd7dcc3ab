package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/chatedu-go/internal/provider"
	"github.com/54b3r/chatedu-go/internal/rag"
)

// LLMPinger probes the chat backend. It satisfies the Pinger interface and
// is used by GET /api/ready.
type LLMPinger struct {
	// model is probed with a one-message Generate when no healthCheck exists.
	model model.BaseChatModel
	// healthCheck is a zero-token listing probe, preferred when set.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
// hc may be nil for backends without a listing endpoint.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthCheckConfig, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness. A HealthCheckConfig is used
// exclusively when present; otherwise it falls back to a single Generate
// call, which consumes tokens.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return errors.New("no chat model configured")
	}

	slog.Debug("pinger: using Generate-based health check", slog.String("backend", p.name))
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// indexStatusReporter is the slice of rag.VectorIndex IndexPinger needs.
type indexStatusReporter interface {
	PayloadIndexStatus() []rag.IndexStatus
}

// IndexPinger reports the payload indexes of the vector collection. A
// missing course_id index does not break filtering but makes it a full scan,
// so it surfaces as not ready.
type IndexPinger struct {
	index indexStatusReporter
}

// NewIndexPinger constructs an IndexPinger over idx.
func NewIndexPinger(idx indexStatusReporter) *IndexPinger {
	return &IndexPinger{index: idx}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "payload_index" }

// Ping fails when any recorded payload index is not ready, or none was
// ever requested.
func (p *IndexPinger) Ping(_ context.Context) error {
	statuses := p.index.PayloadIndexStatus()
	if len(statuses) == 0 {
		return errors.New("no payload index has been ensured")
	}
	var bad []string
	for _, st := range statuses {
		if !st.Ready {
			bad = append(bad, fmt.Sprintf("%s: %s", st.Field, st.Error))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("payload index not ready: %s", strings.Join(bad, "; "))
	}
	return nil
}
