package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/chatedu-go/internal/courses"
	"github.com/54b3r/chatedu-go/internal/rag"
)

const testDim = 8

type hashEmbedder struct{ fail bool }

func (h *hashEmbedder) Dimension() int { return testDim }

func (h *hashEmbedder) EmbedOne(_ context.Context, text string) []float32 {
	if h.fail || text == "" {
		return nil
	}
	f := fnv.New64a()
	_, _ = f.Write([]byte(text))
	sum := f.Sum64()
	v := make([]float32, testDim)
	for i := range v {
		v[i] = float32((sum>>(i*8))&0xff) + 1
	}
	return v
}

func (h *hashEmbedder) EmbedMany(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.EmbedOne(ctx, t)
	}
	return out
}

type staticLister struct {
	list []courses.Course
	err  error
}

func (s staticLister) List() ([]courses.Course, error) { return s.list, s.err }

// fixture seeds two courses into a MemoryIndex and builds a Server over it.
func fixture(t *testing.T, emb *hashEmbedder) (*Server, *rag.MemoryIndex) {
	t.Helper()
	ctx := context.Background()
	idx := rag.NewMemoryIndex(nil)
	require.NoError(t, rag.Prepare(ctx, idx, testDim))

	seed := func(courseID string, texts ...string) {
		chunks := make([]rag.Chunk, len(texts))
		for i, tx := range texts {
			chunks[i] = rag.Chunk{Text: tx, Source: courseID + ".pdf", Page: i + 1}
		}
		require.True(t, idx.Upsert(ctx, chunks, (&hashEmbedder{}).EmbedMany(ctx, texts), courseID))
	}
	seed("101", "mitose", "meiose", "DNA")
	seed("202", "derivadas")

	r, err := rag.NewRetriever(emb, idx, 5, nil)
	require.NoError(t, err)
	s, err := NewServer(Config{
		Retriever: r,
		Content:   idx,
		Courses:   staticLister{list: []courses.Course{{ID: "101", Name: "Biologia"}, {ID: "202"}}},
		Counter:   idx,
	})
	require.NoError(t, err)
	return s, idx
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewServer(Config{Content: rag.NewMemoryIndex(nil)})
	assert.Error(t, err)
	r, err := rag.NewRetriever(&hashEmbedder{}, rag.NewMemoryIndex(nil), 0, nil)
	require.NoError(t, err)
	_, err = NewServer(Config{Retriever: r})
	assert.Error(t, err)
}

func TestSearchCourse(t *testing.T) {
	t.Parallel()
	s, _ := fixture(t, &hashEmbedder{})
	ctx := context.Background()

	_, out, err := s.handleSearchCourse(ctx, nil, SearchCourseInput{Query: "mitose", CourseID: "101"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, "mitose", out.Results[0].Text)
	for _, r := range out.Results {
		assert.Equal(t, "101", r.CourseID)
	}

	_, out, err = s.handleSearchCourse(ctx, nil, SearchCourseInput{Query: "mitose", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)

	_, out, err = s.handleSearchCourse(ctx, nil, SearchCourseInput{Query: "x", CourseID: "999"})
	require.NoError(t, err)
	assert.Zero(t, out.Count)
	assert.NotEmpty(t, out.Message)
	assert.NotNil(t, out.Results)

	_, _, err = s.handleSearchCourse(ctx, nil, SearchCourseInput{})
	assert.Error(t, err)
}

func TestSearchCourse_EmbeddingFailure(t *testing.T) {
	t.Parallel()
	s, _ := fixture(t, &hashEmbedder{fail: true})
	_, _, err := s.handleSearchCourse(context.Background(), nil, SearchCourseInput{Query: "q"})
	assert.ErrorIs(t, err, rag.ErrEmbeddingFailed)
}

func TestListCourses(t *testing.T) {
	t.Parallel()
	s, _ := fixture(t, &hashEmbedder{})

	_, out, err := s.handleListCourses(context.Background(), nil, ListCoursesInput{})
	require.NoError(t, err)
	require.Equal(t, 2, out.Count)
	assert.Equal(t, "Biologia", out.Courses[0].Name)
	require.NotNil(t, out.Courses[0].Chunks)
	assert.EqualValues(t, 3, *out.Courses[0].Chunks)
	assert.EqualValues(t, 1, *out.Courses[1].Chunks)
}

func TestListCourses_ListerError(t *testing.T) {
	t.Parallel()
	s, _ := fixture(t, &hashEmbedder{})
	s.cfg.Courses = staticLister{err: errors.New("boom")}
	_, _, err := s.handleListCourses(context.Background(), nil, ListCoursesInput{})
	assert.Error(t, err)

	s.cfg.Courses = nil
	_, out, err := s.handleListCourses(context.Background(), nil, ListCoursesInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Courses)
}

func TestCourseContent(t *testing.T) {
	t.Parallel()
	s, _ := fixture(t, &hashEmbedder{})
	ctx := context.Background()

	_, out, err := s.handleCourseContent(ctx, nil, CourseContentInput{CourseID: "101"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	assert.ElementsMatch(t, []string{"mitose", "meiose", "DNA"},
		[]string{out.Chunks[0].Text, out.Chunks[1].Text, out.Chunks[2].Text})
	assert.Equal(t, "101.pdf", out.Chunks[0].Source)

	_, out, err = s.handleCourseContent(ctx, nil, CourseContentInput{CourseID: "101", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)

	_, _, err = s.handleCourseContent(ctx, nil, CourseContentInput{})
	assert.ErrorIs(t, err, rag.ErrEmptyCourse)
}

func TestClamp(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 5, clamp(0, 5, 50))
	assert.Equal(t, 5, clamp(-3, 5, 50))
	assert.Equal(t, 7, clamp(7, 5, 50))
	assert.Equal(t, 50, clamp(500, 5, 50))
}

// TestProtocolRoundTrip drives the server through an MCP client over
// in-memory transports.
func TestProtocolRoundTrip(t *testing.T) {
	t.Parallel()
	s, _ := fixture(t, &hashEmbedder{})
	ctx := context.Background()

	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search_course", "list_courses", "course_content"}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "course_content",
		Arguments: map[string]any{"course_id": "202"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var out CourseContentOutput
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	assert.Equal(t, "202", out.CourseID)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "derivadas", out.Chunks[0].Text)
}
