package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/chatedu-go/internal/logging"
)

// probeTimeout bounds each dependency probe run by /api/ready.
const probeTimeout = 5 * time.Second

// Pinger reports whether one dependency (chat backend, Qdrant, the course_id
// payload index) is usable. Implementations must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "qdrant".
	Name() string
}

// ProbeResult is the outcome of probing one dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Probe runs every pinger concurrently, each bounded by timeout, and returns
// the results in pinger order.
func Probe(ctx context.Context, timeout time.Duration, pingers ...Pinger) []ProbeResult {
	results := make([]ProbeResult, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(pctx)
			results[i] = ProbeResult{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Error = err.Error()
			}
		})
	}
	wg.Wait()
	return results
}

// MultiPinger combines several pingers into one. Its Ping fails when any
// member fails and reports every failure, not just the first.
type MultiPinger struct {
	pingers []Pinger
	timeout time.Duration
}

// NewMultiPinger constructs a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers, timeout: probeTimeout}
}

// Ping probes all members concurrently.
func (m *MultiPinger) Ping(ctx context.Context) error {
	var errs []error
	for _, r := range Probe(ctx, m.timeout, m.pingers...) {
		if !r.OK {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Error))
		}
	}
	return errors.Join(errs...)
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

// readyResponse is the JSON body of GET /api/ready.
type readyResponse struct {
	Ready  bool          `json:"ready"`
	Checks []ProbeResult `json:"checks"`
}

// handleReady handles GET /api/ready: 200 when every dependency answers,
// 503 otherwise. /api/health stays a pure liveness check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := Probe(r.Context(), probeTimeout, s.pingers...)
	ready := true
	for _, c := range checks {
		if !c.OK {
			ready = false
			log.Warn("readiness probe failed",
				slog.String("dependency", c.Name),
				slog.String("error", c.Error),
				slog.Int64("latency_ms", c.LatencyMS),
			)
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, readyResponse{Ready: ready, Checks: checks}, log)
}
