package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"golang.org/x/time/rate"

	"github.com/54b3r/chatedu-go/internal/budget"
	"github.com/54b3r/chatedu-go/internal/logging"
)

const (
	// flashcardGroups is the maximum number of content groups per course.
	flashcardGroups = 3
	// flashcardTotal is the number of cards requested across all groups.
	flashcardTotal = 10
	// flashcardGroupChars caps the text sent per group.
	flashcardGroupChars = 2000

	flashcardSystem = "Você é um assistente educacional especializado em criar flashcards eficazes para estudo."
)

// flashcardPrompt takes the card count and the group's course text.
const flashcardPrompt = `Você é um educador especializado em criar flashcards eficazes para aprendizado. Baseado no conteúdo abaixo, crie %d flashcards no formato pergunta e resposta.

Regras MUITO IMPORTANTES para os flashcards:
1. Cada flashcard deve focar em conceitos gerais, definições ou princípios universais da matéria
2. Evite COMPLETAMENTE criar flashcards sobre exemplos específicos, exercícios numéricos ou problemas particulares
3. As perguntas devem ser autocontidas e compreensíveis sem necessidade de contexto adicional
4. As respostas devem ser completas mas sucintas (máximo 3 frases)
5. NÃO use referências como "no exemplo 1", "no problema X" ou "na questão Y"
6. Foque em conhecimento conceitual que seja útil e compreensível por si só
7. Priorize definições, metodologias, teorias e conceitos fundamentais da disciplina
8. Se o conteúdo for muito específico sobre exercícios, extraia apenas o conhecimento geral aplicável
9. NUNCA mencione variáveis específicas de problemas (como A, B, x, y) a menos que sejam convenções universais da área
10. Certifique-se que cada flashcard seria compreensível para alguém que não tenha acesso ao material original e traga de forma aprofundada e tecnica

CONTEÚDO DO CURSO:
%s

Responda APENAS com um array JSON contendo os flashcards, seguindo exatamente este formato:
[
{
    "pergunta": "Pergunta do flashcard 1?",
    "resposta": "Resposta do flashcard 1."
}
]

Não inclua nenhum texto adicional antes ou depois do JSON.`

// Flashcard is one question/answer study card.
type Flashcard struct {
	Question string `json:"pergunta"`
	Answer   string `json:"resposta"`
}

// FlashcardsConfig configures a Flashcards generator.
type FlashcardsConfig struct {
	// ContentLimit caps the chunks read per course.
	ContentLimit int
	// Temperature defaults to 0.5 and MaxTokens to 2000.
	Temperature float32
	MaxTokens   int
	// Timeout bounds each group's model call.
	Timeout time.Duration
	// Interval is the minimum spacing between group calls. Defaults to 1s;
	// negative disables pacing.
	Interval time.Duration
}

// Flashcards generates study cards from a course's stored chunks.
type Flashcards struct {
	content CourseContent
	model   model.BaseChatModel
	cfg     FlashcardsConfig
	limiter *rate.Limiter
}

// NewFlashcards constructs a Flashcards generator.
func NewFlashcards(content CourseContent, m model.BaseChatModel, cfg FlashcardsConfig) (*Flashcards, error) {
	if content == nil {
		return nil, fmt.Errorf("generator: course content must not be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return &Flashcards{content: content, model: m, cfg: cfg, limiter: limiter}, nil
}

// Generate returns the flashcards for courseID. The course text is split into
// at most three groups and each group yields max(1, 10/groups) cards. A group
// whose call or JSON parsing fails is skipped; an unknown or empty course
// yields an empty slice.
func (f *Flashcards) Generate(ctx context.Context, courseID string) []Flashcard {
	log := logging.FromContext(ctx).With(slog.String("course_id", courseID))
	cards := []Flashcard{}

	texts := courseTexts(ctx, f.content, courseID, f.cfg.ContentLimit)
	if len(texts) == 0 {
		log.Warn("generator: no content for flashcards")
		return cards
	}

	groups := groupTexts(texts, flashcardGroups)
	perGroup := max(1, flashcardTotal/len(groups))

	for i, g := range groups {
		if err := f.limiter.Wait(ctx); err != nil {
			log.Warn("generator: flashcards interrupted", slog.Any("error", err))
			break
		}
		text := budget.Truncate(strings.Join(g, " "), flashcardGroupChars)
		reply, err := complete(ctx, f.model, call{
			name:        "flashcards",
			system:      flashcardSystem,
			user:        fmt.Sprintf(flashcardPrompt, perGroup, text),
			temperature: f.cfg.Temperature,
			maxTokens:   f.cfg.MaxTokens,
			timeout:     f.cfg.Timeout,
		})
		if err != nil {
			log.Warn("generator: flashcard group failed", slog.Int("group", i+1), slog.Any("error", err))
			continue
		}
		got, err := ParseFlashcards(reply)
		if err != nil {
			log.Warn("generator: flashcard group returned invalid JSON", slog.Int("group", i+1), slog.Any("error", err))
			continue
		}
		cards = append(cards, got...)
	}

	log.Info("generator: flashcards generated", slog.Int("groups", len(groups)), slog.Int("cards", len(cards)))
	return cards
}

// ParseFlashcards decodes a model reply holding a JSON array of cards,
// tolerating a surrounding code fence. Cards missing a question or an answer
// are dropped.
func ParseFlashcards(reply string) ([]Flashcard, error) {
	var raw []Flashcard
	if err := json.Unmarshal([]byte(StripFences(reply)), &raw); err != nil {
		return nil, fmt.Errorf("generator: parse flashcards: %w", err)
	}
	out := make([]Flashcard, 0, len(raw))
	for _, c := range raw {
		c.Question, c.Answer = strings.TrimSpace(c.Question), strings.TrimSpace(c.Answer)
		if c.Question != "" && c.Answer != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// groupTexts splits texts into at most n contiguous groups of equal size
// (the last may be shorter).
func groupTexts(texts []string, n int) [][]string {
	if len(texts) == 0 || n <= 0 {
		return nil
	}
	size := (len(texts) + n - 1) / n
	groups := make([][]string, 0, n)
	for i := 0; i < len(texts); i += size {
		groups = append(groups, texts[i:min(i+size, len(texts))])
	}
	return groups
}
