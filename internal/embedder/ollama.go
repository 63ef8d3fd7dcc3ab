package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OllamaEmbedder calls Ollama's /api/embed. Ollama answers 5xx while a model
// is still loading, so those responses and transport errors are retried;
// 4xx responses (unknown model, bad input) fail at once.
type OllamaEmbedder struct {
	host      string
	model     string
	keepAlive string
	client    *http.Client
	retry     func() backoff.BackOff
}

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL, e.g. "http://localhost:11434".
	Host string
	// Model is the embedding model, e.g. "nomic-embed-text".
	Model string
	// KeepAlive is passed through as keep_alive, e.g. "10m". Empty leaves
	// the server default.
	KeepAlive string
	// MaxElapsed caps the total retry time (default 30s).
	MaxElapsed time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &OllamaEmbedder{
		host:      strings.TrimRight(cfg.Host, "/"),
		model:     cfg.Model,
		keepAlive: cfg.KeepAlive,
		client:    &http.Client{Timeout: 60 * time.Second},
		retry: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = maxElapsed
			return b
		},
	}
}

// ollamaEmbedRequest asks the server to truncate inputs longer than the
// model context instead of failing the whole batch.
type ollamaEmbedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	Truncate  bool     `json:"truncate"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{
		Model:     e.model,
		Input:     texts,
		Truncate:  true,
		KeepAlive: e.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: marshal request: %w", err)
	}

	var out [][]float32
	operation := func() error {
		vecs, err := e.post(ctx, payload)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return backoff.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)))
		}
		out = vecs
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(e.retry(), ctx)); err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return out, nil
}

// post sends one request. Errors that retrying cannot fix are wrapped in
// backoff.Permanent.
func (e *OllamaEmbedder) post(ctx context.Context, payload []byte) ([][]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var body ollamaEmbedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if body.Error != "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, body.Error)
		}
		err := fmt.Errorf("%s", msg)
		if resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}
	if decodeErr != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode response: %w", decodeErr))
	}
	return body.Embeddings, nil
}
