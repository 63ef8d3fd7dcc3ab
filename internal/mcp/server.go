// Package mcp exposes the course index to MCP clients (IDEs, agents) as
// tools: semantic search within a course, course listing, and raw course
// content. It runs over stdio (`chatedu mcp`) or as a streamable HTTP
// handler mounted by `chatedu serve` at /mcp.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/generator"
	"github.com/54b3r/chatedu-go/internal/rag"
	"github.com/54b3r/chatedu-go/internal/version"
)

// Retriever runs a similarity search. *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query, courseID string, limit int) rag.Retrieval
}

// Counter reports stored points per course. rag.VectorIndex satisfies it.
type Counter interface {
	Count(ctx context.Context, courseID string) (uint64, error)
}

// CourseLister enumerates known courses. *courses.DirLister satisfies it.
type CourseLister interface {
	List() ([]courses.Course, error)
}

// Config holds the server dependencies. Retriever and Content are required;
// Courses and Counter enrich list_courses when set.
type Config struct {
	Retriever Retriever
	Content   generator.CourseContent
	Courses   CourseLister
	Counter   Counter
	Logger    *slog.Logger
}

// Server wraps the MCP server with its dependencies.
type Server struct {
	server *mcp.Server
	cfg    Config
	log    *slog.Logger
}

// NewServer creates an MCP server with every tool registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Retriever == nil {
		return nil, errors.New("mcp: retriever must not be nil")
	}
	if cfg.Content == nil {
		return nil, errors.New("mcp: course content must not be nil")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    "chatedu",
		Version: version.Version,
	}
	s := &Server{
		server: mcp.NewServer(impl, nil),
		cfg:    cfg,
		log:    log,
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns a streamable HTTP handler for mounting at /mcp.
// Stateless mode is used since no tool makes server-to-client requests.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: true})
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.server }
