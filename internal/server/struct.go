package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/generator"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full flashcard or mind-map generation.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// GenerationRateLimit is the per-IP rate on chat, flashcard and mind-map
	// routes, applied on top of RateLimit. Defaults to 1 if zero.
	GenerationRateLimit float64
	// GenerationBurst is the per-IP burst for those routes. Defaults to 5.
	GenerationBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// AllowedOrigins is the CORS allow-list. "*" allows any origin; empty
	// disables CORS headers.
	AllowedOrigins []string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// MCPHandler, when set, is mounted at /mcp behind the API key.
	MCPHandler http.Handler
}

// ChatAnswerer answers a question from course context.
// *generator.Answerer satisfies it; tests inject a fake.
type ChatAnswerer interface {
	Answer(ctx context.Context, question, courseID string) generator.Answer
}

// FlashcardGenerator produces study cards for a course.
type FlashcardGenerator interface {
	Generate(ctx context.Context, courseID string) []generator.Flashcard
}

// MindMapGenerator produces a course mind map.
type MindMapGenerator interface {
	Generate(ctx context.Context, courseID, courseName string) generator.MindMap
}

// CourseLister enumerates the courses known to this deployment.
// *courses.DirLister satisfies it.
type CourseLister interface {
	List() ([]courses.Course, error)
	Course(id string) (courses.Course, error)
}

// Deps are the domain services the handlers call. Answerer and Content are
// required; the others disable their endpoints (501) when nil.
type Deps struct {
	Answerer   ChatAnswerer
	Flashcards FlashcardGenerator
	MindMaps   MindMapGenerator
	// Content backs GET /api/retriever/{course_id}.
	Content generator.CourseContent
	Courses CourseLister
	// Scraper backs POST /api/login.
	Scraper courses.Scraper
}

// Server is the HTTP server exposing the chat, study-material and course APIs.
type Server struct {
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// apiLimiter guards every protected route.
	apiLimiter *rateLimiter
	// genLimiter additionally guards the model-backed routes.
	genLimiter *rateLimiter
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Text is the student's question.
	Text string `json:"text"`
	// CourseID restricts retrieval to one course; empty searches all courses.
	CourseID string `json:"course_id"`
	// CourseIDCamel is the same field as sent by the web front end.
	CourseIDCamel string `json:"courseId"`
}

// courseID returns whichever course id spelling the client used.
func (r chatRequest) courseID() string {
	if r.CourseID != "" {
		return r.CourseID
	}
	return r.CourseIDCamel
}

// retrieverResponse is the JSON body of GET /api/retriever/{course_id}.
type retrieverResponse struct {
	// Embeddings holds the stored payloads of the course. The name is kept
	// for front-end compatibility; vectors are not included.
	Embeddings []map[string]any `json:"embeddings"`
}

// coursesResponse is the JSON body of GET /api/courses.
type coursesResponse struct {
	Courses []courses.Course `json:"courses"`
}

// loginRequest is the JSON body for POST /api/login. Query parameters
// username and password are accepted as well.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the JSON body returned by POST /api/login.
type loginResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message,omitempty"`
	Courses []courses.Course `json:"cursos"`
}

// errorResponse is the JSON body of a rejected request.
type errorResponse struct {
	Error string `json:"error"`
}
