// Package server implements the HTTP API in front of the retrieval and
// generation pipelines: grounded chat, course payload listing, flashcards,
// mind maps, course enumeration, health probes and Prometheus metrics.
// The server is started by the `chatedu serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New constructs a Server from the domain services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Answerer == nil {
		return nil, fmt.Errorf("server: answerer must not be nil")
	}
	if deps.Content == nil {
		return nil, fmt.Errorf("server: course content must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Flashcards make up to three sequential model calls.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.GenerationRateLimit == 0 {
		cfg.GenerationRateLimit = defaultGenerationLimit
	}
	if cfg.GenerationBurst == 0 {
		cfg.GenerationBurst = defaultGenerationBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	s.apiLimiter = newRateLimiter(tierAPI, cfg.RateLimit, cfg.RateBurst,
		s.metrics.rateLimited.WithLabelValues(tierAPI))
	s.genLimiter = newRateLimiter(tierGeneration, cfg.GenerationRateLimit, cfg.GenerationBurst,
		s.metrics.rateLimited.WithLabelValues(tierGeneration))

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.APIKey == "" {
		log.Warn("server: CHATEDU_API_KEY not set, API authentication disabled")
	}
	return s, nil
}

// routes builds the handler tree. Health, readiness and metrics stay open;
// every other route passes the api limiter and the API key check, and the
// model-backed routes also pass the generation limiter. CORS and request
// logging wrap everything so preflights never hit auth.
func (s *Server) routes() http.Handler {
	protected := http.NewServeMux()
	s.handle(protected, "POST /api/chat", "chat", s.generation(s.handleChat))
	s.handle(protected, "GET /api/retriever/{course_id}", "retriever", http.HandlerFunc(s.handleRetriever))
	s.handle(protected, "POST /api/retriever/{course_id}", "retriever", http.HandlerFunc(s.handleRetriever))
	s.handle(protected, "POST /api/flashcards/{course_id}", "flashcards", s.generation(s.handleFlashcards))
	s.handle(protected, "POST /api/mindmap/{course_id}", "mindmap", s.generation(s.handleMindMap))
	s.handle(protected, "GET /api/courses", "courses", http.HandlerFunc(s.handleCourses))
	s.handle(protected, "POST /api/login", "login", http.HandlerFunc(s.handleLogin))
	if s.cfg.MCPHandler != nil {
		protected.Handle("/mcp", s.cfg.MCPHandler)
		protected.Handle("/mcp/", s.cfg.MCPHandler)
	}

	root := http.NewServeMux()
	s.handle(root, "GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	s.handle(root, "GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	root.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	root.Handle("/", s.apiLimiter.middleware(authMiddleware(s.cfg.APIKey, protected)))

	return requestLogger(s.log, corsMiddleware(s.cfg.AllowedOrigins, root))
}

// handle registers h on mux under pattern with HTTP metrics labelled name.
func (s *Server) handle(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, s.metrics.instrument(name, h))
}

// generation wraps fn in the generation-tier limiter.
func (s *Server) generation(fn http.HandlerFunc) http.Handler {
	return s.genLimiter.middleware(fn)
}

// Handler returns the fully wrapped HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("server: encode response", slog.Any("error", err))
	}
}

// writeError writes an errorResponse.
func writeError(w http.ResponseWriter, status int, msg string, log *slog.Logger) {
	writeJSON(w, status, errorResponse{Error: msg}, log)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
