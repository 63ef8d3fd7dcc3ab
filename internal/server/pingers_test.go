package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/chatedu-go/internal/rag"
)

type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(context.Context) error { return f.err }

type fakeChatModel struct {
	err   error
	calls int
}

func (f *fakeChatModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage("pong", nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestLLMPinger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := &fakeChatModel{}
	if err := NewLLMPinger(m, fakeHealthCheck{}, "ollama").Ping(ctx); err != nil {
		t.Errorf("healthy check: unexpected error %v", err)
	}
	if m.calls != 0 {
		t.Errorf("health check present: Generate must not be called, got %d calls", m.calls)
	}

	err := NewLLMPinger(m, fakeHealthCheck{err: errors.New("503")}, "ollama").Ping(ctx)
	if err == nil || !strings.Contains(err.Error(), "ollama") {
		t.Errorf("failing check: expected error naming backend, got %v", err)
	}

	if err := NewLLMPinger(m, nil, "gemini").Ping(ctx); err != nil {
		t.Errorf("generate fallback: unexpected error %v", err)
	}
	if m.calls != 1 {
		t.Errorf("generate fallback: expected 1 call, got %d", m.calls)
	}

	if err := NewLLMPinger(&fakeChatModel{err: errors.New("quota")}, nil, "ark").Ping(ctx); err == nil {
		t.Error("expected generate error to surface")
	}
	if err := NewLLMPinger(nil, nil, "none").Ping(ctx); err == nil {
		t.Error("expected error with no model and no health check")
	}
}

type fakeStatuses []rag.IndexStatus

func (f fakeStatuses) PayloadIndexStatus() []rag.IndexStatus { return f }

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name     string
		statuses fakeStatuses
		wantErr  bool
	}{
		{"never ensured", nil, true},
		{"ready", fakeStatuses{{Field: rag.KeyCourseID, Ready: true, CheckedAt: now}}, false},
		{"failed", fakeStatuses{{Field: rag.KeyCourseID, Error: "forbidden", CheckedAt: now}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := NewIndexPinger(tc.statuses).Ping(context.Background())
			if (err != nil) != tc.wantErr {
				t.Errorf("expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

// TestIndexPinger_MemoryIndex wires the pinger to a real MemoryIndex.
func TestIndexPinger_MemoryIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	idx := rag.NewMemoryIndex(nil)
	if err := rag.Prepare(ctx, idx, 4); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := NewIndexPinger(idx).Ping(ctx); err != nil {
		t.Errorf("prepared index should be ready, got %v", err)
	}
}

func TestMultiPinger(t *testing.T) {
	t.Parallel()

	ok := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b"})
	if err := ok.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b", err: errors.New("down")})
	if err := bad.Ping(context.Background()); err == nil || !strings.HasPrefix(err.Error(), "b:") {
		t.Errorf("expected error prefixed with failing pinger name, got %v", err)
	}
}
