package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/54b3r/chatedu-go/internal/rag"
)

const (
	defaultSearchLimit  = 5
	maxSearchLimit      = 50
	defaultContentLimit = 100
	maxContentLimit     = 1000
)

// SearchCourseInput is the input schema for search_course.
type SearchCourseInput struct {
	Query    string `json:"query" jsonschema:"the question or topic to search for"`
	CourseID string `json:"course_id,omitempty" jsonschema:"restrict the search to this course id; empty searches every course"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of chunks to return (default 5, max 50)"`
}

// SearchCourseOutput is the output schema for search_course.
type SearchCourseOutput struct {
	Results []ChunkOutput `json:"results"`
	Count   int           `json:"count"`
	Message string        `json:"message,omitempty"`
}

// ChunkOutput is one stored chunk.
type ChunkOutput struct {
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	Page     int     `json:"page"`
	CourseID string  `json:"course_id,omitempty"`
	Score    float32 `json:"score,omitempty"`
}

// ListCoursesInput takes no parameters.
type ListCoursesInput struct{}

// ListCoursesOutput is the output schema for list_courses.
type ListCoursesOutput struct {
	Courses []CourseOutput `json:"courses"`
	Count   int            `json:"count"`
}

// CourseOutput describes one course and its index footprint.
type CourseOutput struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Documents []string `json:"documents,omitempty"`
	Chunks    *uint64  `json:"chunks,omitempty"`
}

// CourseContentInput is the input schema for course_content.
type CourseContentInput struct {
	CourseID string `json:"course_id" jsonschema:"the course id whose stored chunks to return"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of chunks to return (default 100, max 1000)"`
}

// CourseContentOutput is the output schema for course_content.
type CourseContentOutput struct {
	CourseID string        `json:"course_id"`
	Chunks   []ChunkOutput `json:"chunks"`
	Count    int           `json:"count"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_course",
		Description: "Semantic search over ingested course material. Returns the most similar chunks with their source file and page.",
	}, s.handleSearchCourse)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_courses",
		Description: "List the courses known to this deployment with their documents and stored chunk counts.",
	}, s.handleListCourses)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "course_content",
		Description: "Return the stored chunks of one course in storage order.",
	}, s.handleCourseContent)
}

// clamp returns v bounded to [1, hi], or def when v is not positive.
func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	return min(v, hi)
}

func (s *Server) handleSearchCourse(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchCourseInput,
) (*mcp.CallToolResult, SearchCourseOutput, error) {
	if input.Query == "" {
		return nil, SearchCourseOutput{}, errors.New("query is required")
	}
	limit := clamp(input.Limit, defaultSearchLimit, maxSearchLimit)

	r := s.cfg.Retriever.Retrieve(ctx, input.Query, input.CourseID, limit)
	if r.Err != nil {
		s.log.Error("mcp: search_course failed", slog.Any("error", r.Err))
		return nil, SearchCourseOutput{}, fmt.Errorf("search failed: %w", r.Err)
	}

	out := SearchCourseOutput{Results: make([]ChunkOutput, 0, len(r.Hits)), Count: len(r.Hits)}
	for _, h := range r.Hits {
		out.Results = append(out.Results, ChunkOutput{
			Text:     h.Text,
			Source:   h.Source,
			Page:     h.Page,
			CourseID: h.CourseID,
			Score:    h.Score,
		})
	}
	if out.Count == 0 {
		out.Message = "No matching chunks found. Check the course id or try broader terms."
	}
	return nil, out, nil
}

func (s *Server) handleListCourses(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListCoursesInput,
) (*mcp.CallToolResult, ListCoursesOutput, error) {
	out := ListCoursesOutput{Courses: []CourseOutput{}}
	if s.cfg.Courses == nil {
		return nil, out, nil
	}
	list, err := s.cfg.Courses.List()
	if err != nil {
		return nil, ListCoursesOutput{}, fmt.Errorf("list courses: %w", err)
	}
	for _, c := range list {
		co := CourseOutput{ID: c.ID, Name: c.Name, Documents: c.Documents}
		if s.cfg.Counter != nil {
			if n, err := s.cfg.Counter.Count(ctx, c.ID); err == nil {
				co.Chunks = &n
			} else {
				s.log.Warn("mcp: count failed", slog.String("course_id", c.ID), slog.Any("error", err))
			}
		}
		out.Courses = append(out.Courses, co)
	}
	out.Count = len(out.Courses)
	return nil, out, nil
}

func (s *Server) handleCourseContent(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CourseContentInput,
) (*mcp.CallToolResult, CourseContentOutput, error) {
	if input.CourseID == "" {
		return nil, CourseContentOutput{}, rag.ErrEmptyCourse
	}
	limit := clamp(input.Limit, defaultContentLimit, maxContentLimit)

	payloads := s.cfg.Content.GetAllByCourse(ctx, input.CourseID, limit)
	out := CourseContentOutput{CourseID: input.CourseID, Chunks: make([]ChunkOutput, 0, len(payloads))}
	for _, p := range payloads {
		out.Chunks = append(out.Chunks, ChunkOutput{
			Text:   p.Text(),
			Source: p.String(rag.KeySource),
			Page:   p.Int(rag.KeyPage, rag.UnknownPage),
		})
	}
	out.Count = len(out.Chunks)
	return nil, out, nil
}
