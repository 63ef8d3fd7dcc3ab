package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func send(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	t.Parallel()

	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "rejected"})
	rl := newRateLimiter(tierGeneration, 0.001, 3, rejected)
	h := rl.middleware(okHandler)

	for i := range 3 {
		if w := send(h, http.MethodPost, "/api/chat", "10.0.0.1:1111"); w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: expected 200, got %d", i, w.Code)
		}
	}
	w := send(h, http.MethodPost, "/api/chat", "10.0.0.1:1111")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the burst, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected a JSON error body, got Content-Type %q", ct)
	}
	if got := testutil.ToFloat64(rejected); got != 1 {
		t.Errorf("rejected counter: got %v, want 1", got)
	}
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter(tierAPI, 0.001, 1, nil)
	h := rl.middleware(okHandler)

	if w := send(h, http.MethodGet, "/api/courses", "10.0.0.1:1"); w.Code != http.StatusOK {
		t.Fatalf("first client: expected 200, got %d", w.Code)
	}
	if w := send(h, http.MethodGet, "/api/courses", "10.0.0.1:2"); w.Code != http.StatusTooManyRequests {
		t.Errorf("same host on another port should share the bucket, got %d", w.Code)
	}
	if w := send(h, http.MethodGet, "/api/courses", "10.0.0.2:1"); w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
}

func TestRateLimiter_RetryAfterFromRefill(t *testing.T) {
	t.Parallel()

	// One token every four seconds.
	rl := newRateLimiter(tierGeneration, 0.25, 1, nil)
	h := rl.middleware(okHandler)

	send(h, http.MethodPost, "/api/mindmap/101", "10.0.0.3:1")
	w := send(h, http.MethodPost, "/api/mindmap/101", "10.0.0.3:1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "4" {
		t.Errorf("Retry-After: got %q, want %q", got, "4")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	rl := newRateLimiter(tierAPI, 10, 10, nil)
	rl.now = func() time.Time { return now }

	rl.bucket("10.0.0.1")
	rl.bucket("10.0.0.2")
	if rl.size() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", rl.size())
	}

	now = now.Add(idleClientTTL + time.Minute)
	rl.bucket("10.0.0.3")
	if rl.size() != 1 {
		t.Errorf("expected idle clients swept, %d remain", rl.size())
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]string{
		0:                       "1",
		300 * time.Millisecond:  "1",
		2 * time.Second:         "2",
		2500 * time.Millisecond: "3",
	}
	for d, want := range cases {
		if got := retryAfter(d); got != want {
			t.Errorf("retryAfter(%v): got %q, want %q", d, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct{ remote, want string }{
		{"127.0.0.1:12345", "127.0.0.1"},
		{"[::1]:8080", "::1"},
		{"10.0.0.5", "10.0.0.5"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remote
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q): got %q, want %q", tc.remote, got, tc.want)
		}
	}
}

func TestRoutes_GenerationTier(t *testing.T) {
	t.Parallel()

	s := newRoutedServer(t, &Config{GenerationRateLimit: 0.001, GenerationBurst: 1})
	h := s.Handler()

	chat := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"text":"o que é mitose?"}`))
		req.RemoteAddr = "10.1.0.1:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}
	if w := chat(); w.Code != http.StatusOK {
		t.Fatalf("first chat: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if w := chat(); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second chat: expected 429, got %d", w.Code)
	}
	// Non-generation routes keep the api tier budget.
	if w := send(h, http.MethodGet, "/api/courses", "10.1.0.1:1"); w.Code == http.StatusTooManyRequests {
		t.Error("courses should not share the generation budget")
	}
}
