package generator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/chatedu-go/internal/rag"
)

const testDim = 8

// fakeModel returns queued replies in order, then repeats the last one.
type fakeModel struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return schema.AssistantMessage("", nil), nil
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return schema.AssistantMessage(r, nil), nil
}

func (f *fakeModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeModel) lastUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.calls[len(f.calls)-1]
	return msgs[len(msgs)-1].Content
}

// hashEmbedder maps text to a deterministic unit-ish vector.
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

func seededIndex(t *testing.T, courseID string, texts ...string) *rag.MemoryIndex {
	t.Helper()
	ctx := context.Background()
	idx := rag.NewMemoryIndex(nil)
	require.NoError(t, idx.EnsureCollection(ctx, testDim))
	if len(texts) == 0 {
		return idx
	}
	chunks := make([]rag.Chunk, len(texts))
	for i, tx := range texts {
		chunks[i] = rag.Chunk{Text: tx, Source: fmt.Sprintf("aula%d.pdf", i%2+1), Page: i + 1}
	}
	emb := &hashEmbedder{}
	require.True(t, idx.Upsert(ctx, chunks, emb.EmbedMany(ctx, texts), courseID))
	return idx
}

func newTestAnswerer(t *testing.T, idx rag.VectorIndex, emb rag.Embedder, m model.BaseChatModel, cfg AnswererConfig) *Answerer {
	t.Helper()
	r, err := rag.NewRetriever(emb, idx, 5, nil)
	require.NoError(t, err)
	a, err := NewAnswerer(r, m, cfg, nil)
	require.NoError(t, err)
	return a
}

func TestStripFences(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		in, want string
	}{
		"plain":        {in: ` [1] `, want: `[1]`},
		"json fence":   {in: "```json\n[1]\n```", want: `[1]`},
		"bare fence":   {in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		"inline fence": {in: "```json[1]```", want: `[1]`},
		"same line":    {in: "```{\"a\":1}\n```", want: `{"a":1}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, StripFences(tc.in))
		})
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := &fakeModel{replies: []string{"  resposta  "}}
	got, err := complete(ctx, m, call{system: "sys", user: "u"})
	require.NoError(t, err)
	assert.Equal(t, "resposta", got)
	require.Len(t, m.calls[0], 2)
	assert.Equal(t, schema.System, m.calls[0][0].Role)

	_, err = complete(ctx, &fakeModel{replies: []string{"   "}}, call{user: "u"})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	boom := errors.New("boom")
	_, err = complete(ctx, &fakeModel{err: boom}, call{user: "u"})
	assert.ErrorIs(t, err, boom)
}

func TestAnswerer_Answer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	idx := seededIndex(t, "101", "Fotossíntese converte luz em energia.", "A clorofila absorve luz.")
	m := &fakeModel{replies: []string{"A fotossíntese é..."}}
	a := newTestAnswerer(t, idx, &hashEmbedder{}, m, AnswererConfig{})

	got := a.Answer(ctx, "O que é fotossíntese?", "101")
	assert.Empty(t, got.Error)
	assert.Equal(t, "A fotossíntese é...", got.Response)
	assert.Len(t, got.Sources, 2)

	prompt := m.lastUser()
	assert.Contains(t, prompt, "Fotossíntese converte luz em energia.")
	assert.Contains(t, prompt, rag.ContextSeparator)
	assert.Contains(t, prompt, "Pergunta: O que é fotossíntese?")
}

func TestAnswerer_NoContext(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "conteúdo")
	m := &fakeModel{replies: []string{"Não sei."}}
	a := newTestAnswerer(t, idx, &hashEmbedder{}, m, AnswererConfig{})

	got := a.Answer(context.Background(), "pergunta", "999")
	assert.Equal(t, "Não sei.", got.Response)
	assert.Empty(t, got.Sources)
	assert.NotNil(t, got.Sources)
	assert.Contains(t, m.lastUser(), rag.NoContextPlaceholder)
}

func TestAnswerer_RetrievalFailure(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "conteúdo")
	m := &fakeModel{replies: []string{"x"}}
	a := newTestAnswerer(t, idx, &hashEmbedder{fail: true}, m, AnswererConfig{})

	got := a.Answer(context.Background(), "pergunta", "101")
	assert.Equal(t, msgRetrievalFailed, got.Error)
	assert.Empty(t, got.Response)
	assert.Zero(t, m.callCount())
}

func TestAnswerer_GenerationFailureKeepsSources(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "conteúdo um", "conteúdo dois")
	a := newTestAnswerer(t, idx, &hashEmbedder{}, &fakeModel{err: errors.New("down")}, AnswererConfig{})

	got := a.Answer(context.Background(), "pergunta", "101")
	assert.Equal(t, msgGenerationFailed, got.Error)
	assert.Empty(t, got.Response)
	assert.NotEmpty(t, got.Sources)
}

func TestAnswerer_EmptyQuestion(t *testing.T) {
	t.Parallel()
	m := &fakeModel{}
	a := newTestAnswerer(t, seededIndex(t, "101"), &hashEmbedder{}, m, AnswererConfig{})
	got := a.Answer(context.Background(), "   ", "101")
	assert.NotEmpty(t, got.Error)
	assert.Zero(t, m.callCount())
}

func TestAnswerer_TrimsContextToBudget(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("palavra ", 400)
	idx := seededIndex(t, "101", long+"a", long+"b", long+"c")
	m := &fakeModel{replies: []string{"ok"}}
	a := newTestAnswerer(t, idx, &hashEmbedder{}, m, AnswererConfig{MaxContextTokens: 1000})

	got := a.Answer(context.Background(), "pergunta", "101")
	require.Empty(t, got.Error)
	assert.Equal(t, 1, strings.Count(m.lastUser(), long))
}

func TestNewAnswerer_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewAnswerer(nil, &fakeModel{}, AnswererConfig{}, nil)
	assert.Error(t, err)
	r, err := rag.NewRetriever(&hashEmbedder{}, rag.NewMemoryIndex(nil), 0, nil)
	require.NoError(t, err)
	_, err = NewAnswerer(r, nil, AnswererConfig{}, nil)
	assert.Error(t, err)
}

func TestGroupTexts(t *testing.T) {
	t.Parallel()
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	groups := groupTexts(texts, 3)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"a", "b", "c"}, groups[0])
	assert.Equal(t, []string{"g"}, groups[2])

	assert.Len(t, groupTexts([]string{"a"}, 3), 1)
	assert.Len(t, groupTexts(make([]string, 100), 3), 3)
	assert.Nil(t, groupTexts(nil, 3))
}

func TestParseFlashcards(t *testing.T) {
	t.Parallel()
	cards, err := ParseFlashcards("```json\n[{\"pergunta\":\"P?\",\"resposta\":\"R.\"},{\"pergunta\":\"\",\"resposta\":\"x\"}]\n```")
	require.NoError(t, err)
	assert.Equal(t, []Flashcard{{Question: "P?", Answer: "R."}}, cards)

	_, err = ParseFlashcards("isto não é JSON")
	assert.Error(t, err)
}

func newTestFlashcards(t *testing.T, idx CourseContent, m model.BaseChatModel) *Flashcards {
	t.Helper()
	f, err := NewFlashcards(idx, m, FlashcardsConfig{Interval: -1})
	require.NoError(t, err)
	return f
}

func TestFlashcards_Generate(t *testing.T) {
	t.Parallel()
	texts := make([]string, 9)
	for i := range texts {
		texts[i] = fmt.Sprintf("trecho %d", i)
	}
	idx := seededIndex(t, "101", texts...)
	m := &fakeModel{replies: []string{
		`[{"pergunta":"Q1","resposta":"A1"},{"pergunta":"Q2","resposta":"A2"}]`,
		"```json\n[{\"pergunta\":\"Q3\",\"resposta\":\"A3\"}]\n```",
		`[{"pergunta":"Q4","resposta":"A4"}]`,
	}}
	cards := newTestFlashcards(t, idx, m).Generate(context.Background(), "101")

	assert.Equal(t, 3, m.callCount())
	assert.Len(t, cards, 4)
	assert.Contains(t, m.lastUser(), "crie 3 flashcards")
	assert.Equal(t, flashcardSystem, m.calls[0][0].Content)
}

func TestFlashcards_SkipsFailedGroups(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "um", "dois", "três")
	m := &fakeModel{replies: []string{
		`[{"pergunta":"Q1","resposta":"A1"}]`,
		"não é json",
		`[{"pergunta":"Q3","resposta":"A3"}]`,
	}}
	cards := newTestFlashcards(t, idx, m).Generate(context.Background(), "101")
	assert.Equal(t, []Flashcard{{"Q1", "A1"}, {"Q3", "A3"}}, cards)
}

func TestFlashcards_SingleChunk(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "único trecho")
	m := &fakeModel{replies: []string{`[]`}}
	cards := newTestFlashcards(t, idx, m).Generate(context.Background(), "101")
	assert.Empty(t, cards)
	assert.NotNil(t, cards)
	assert.Equal(t, 1, m.callCount())
	assert.Contains(t, m.lastUser(), "crie 10 flashcards")
}

func TestFlashcards_TruncatesGroupText(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", strings.Repeat("x", 5000))
	m := &fakeModel{replies: []string{`[]`}}
	newTestFlashcards(t, idx, m).Generate(context.Background(), "101")
	assert.NotContains(t, m.lastUser(), strings.Repeat("x", flashcardGroupChars+1))
	assert.Contains(t, m.lastUser(), strings.Repeat("x", flashcardGroupChars)+"...")
}

func TestFlashcards_UnknownCourse(t *testing.T) {
	t.Parallel()
	m := &fakeModel{}
	cards := newTestFlashcards(t, seededIndex(t, "101", "a"), m).Generate(context.Background(), "404")
	assert.Empty(t, cards)
	assert.Zero(t, m.callCount())
}

func TestFlashcards_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := NewFlashcards(seededIndex(t, "101", "a", "b"), &fakeModel{}, FlashcardsConfig{})
	require.NoError(t, err)
	assert.Empty(t, f.Generate(ctx, "101"))
}

const validMindMap = `{
  "nodes": [
    {"id": "root", "type": "input", "data": {"label": "Biologia", "description": "Vida."}},
    {"id": "topic-1", "data": {"label": "Células"}}
  ],
  "edges": [
    {"id": "edge-root-topic-1", "source": "root", "target": "topic-1"}
  ]
}`

func TestParseMindMap(t *testing.T) {
	t.Parallel()
	mm, err := ParseMindMap("```json\n" + validMindMap + "\n```")
	require.NoError(t, err)
	require.Len(t, mm.Nodes, 2)
	assert.Equal(t, "Vida.", mm.Nodes[0].Data.Description)
	assert.Equal(t, "Células", mm.Nodes[1].Data.Label)
	assert.False(t, mm.Fallback)

	invalid := map[string]string{
		"not json":        `isto não é json`,
		"no nodes key":    `{"edges": []}`,
		"no edges key":    `{"nodes": [{"id":"root","data":{"label":"x"}}]}`,
		"empty nodes":     `{"nodes": [], "edges": []}`,
		"no root":         `{"nodes": [{"id":"topic-1","data":{"label":"x"}}], "edges": []}`,
		"missing label":   `{"nodes": [{"id":"root","data":{}}], "edges": []}`,
		"numeric id":      `{"nodes": [{"id":1,"data":{"label":"x"}}], "edges": []}`,
		"edge w/o target": `{"nodes": [{"id":"root","data":{"label":"x"}}], "edges": [{"id":"e","source":"root"}]}`,
		"bad description": `{"nodes": [{"id":"root","data":{"label":"x","description":3}}], "edges": []}`,
	}
	for name, in := range invalid {
		_, err := ParseMindMap(in)
		assert.ErrorIs(t, err, ErrInvalidMindMap, name)
	}
}

func TestMindMaps_Generate(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "Células são unidades da vida.", "DNA carrega informação.")
	m := &fakeModel{replies: []string{validMindMap}}
	g, err := NewMindMaps(idx, m, MindMapsConfig{})
	require.NoError(t, err)

	mm := g.Generate(context.Background(), "101", "Biologia")
	assert.False(t, mm.Fallback)
	assert.Len(t, mm.Nodes, 2)
	assert.Contains(t, m.lastUser(), `curso "Biologia"`)
	assert.Contains(t, m.lastUser(), "Células são unidades da vida. DNA carrega informação.")
}

func TestMindMaps_Fallbacks(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", "conteúdo")
	cases := map[string]struct {
		course string
		model  *fakeModel
		reason string
	}{
		"no content":   {course: "404", model: &fakeModel{}, reason: "Nenhum conteúdo"},
		"model error":  {course: "101", model: &fakeModel{err: errors.New("down")}, reason: "Erro na comunicação"},
		"invalid json": {course: "101", model: &fakeModel{replies: []string{"nope"}}, reason: "estrutura de mapa mental inválida"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g, err := NewMindMaps(idx, tc.model, MindMapsConfig{})
			require.NoError(t, err)
			mm := g.Generate(context.Background(), tc.course, "")
			assert.True(t, mm.Fallback)
			require.Len(t, mm.Nodes, 2)
			assert.Equal(t, RootID, mm.Nodes[0].ID)
			assert.Equal(t, tc.course, mm.Nodes[0].Data.Label)
			assert.Contains(t, mm.Nodes[0].Data.Description, tc.reason)
			require.Len(t, mm.Edges, 1)
			assert.True(t, mm.Edges[0].Animated)
		})
	}
}

func TestMindMaps_TruncatesContent(t *testing.T) {
	t.Parallel()
	idx := seededIndex(t, "101", strings.Repeat("y", 6000), strings.Repeat("z", 6000))
	m := &fakeModel{replies: []string{validMindMap}}
	g, err := NewMindMaps(idx, m, MindMapsConfig{})
	require.NoError(t, err)
	g.Generate(context.Background(), "101", "Curso")
	assert.NotContains(t, m.lastUser(), strings.Repeat("z", 2001))
	assert.Contains(t, m.lastUser(), "...")
}
