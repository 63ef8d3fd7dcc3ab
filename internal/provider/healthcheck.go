package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// httpHealthCheck probes a listing endpoint that costs no tokens.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck issues a GET and treats any 2xx as healthy.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	req.Header = h.header.Clone()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider: health check %s returned %d", h.url, resp.StatusCode)
	}
	return nil
}

// HealthCheck returns a zero-token probe for the selected backend, or nil
// when the backend has no cheap listing endpoint (Ark, Gemini). Callers fall
// back to a one-message Generate in that case.
func (c *Config) HealthCheck() HealthCheckConfig {
	client := &http.Client{Timeout: 5 * time.Second}
	bearer := func(key string) http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer "+key)
		return h
	}
	switch c.Backend {
	case BackendOllama:
		host := c.Ollama.Host
		if host == "" {
			host = "http://localhost:11434"
		}
		return &httpHealthCheck{url: strings.TrimRight(host, "/") + "/api/tags", header: http.Header{}, client: client}
	case BackendOpenAI:
		base := c.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", header: bearer(c.OpenAI.APIKey), client: client}
	case BackendGroq:
		base := c.Groq.BaseURL
		if base == "" {
			base = DefaultGroqBaseURL
		}
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", header: bearer(c.Groq.APIKey), client: client}
	case BackendAzure:
		h := http.Header{}
		h.Set("api-key", c.AzureOpenAI.APIKey)
		url := fmt.Sprintf("%s/openai/models?api-version=%s", strings.TrimRight(c.AzureOpenAI.Endpoint, "/"), c.AzureOpenAI.APIVersion)
		return &httpHealthCheck{url: url, header: h, client: client}
	}
	return nil
}
