package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/chatedu-go/internal/budget"
	"github.com/54b3r/chatedu-go/internal/logging"
	"github.com/54b3r/chatedu-go/internal/rag"
)

// answerPrompt is the Brazilian Portuguese answer template. The first %s is
// the retrieved context, the second the student's question.
const answerPrompt = `Com base nas informações, responda a pergunta em português do Brasil:

Contexto: %s

Pergunta: %s

Sua resposta deve ser detalhada, educacional e facilitar o entendimento do estudante.
Inclua explicações claras e exemplos quando relevante.

Resposta:`

// Error messages returned to the student in Answer.Error.
const (
	msgRetrievalFailed  = "Falha ao recuperar o contexto do curso."
	msgGenerationFailed = "Falha interna ao gerar a resposta."
)

// Answer is the chat endpoint payload.
type Answer struct {
	// Response is the generated answer, empty on failure.
	Response string `json:"response,omitempty"`
	// Sources lists the distinct (source, page) pairs used as context.
	Sources []rag.Source `json:"retrieved_sources"`
	// Error describes the failure, empty on success.
	Error string `json:"error,omitempty"`
}

// AnswererConfig configures an Answerer.
type AnswererConfig struct {
	// Limit is the number of chunks retrieved per question (0 uses the retriever default).
	Limit int
	// MaxContextTokens caps prompt size; lowest-ranked chunks are dropped to fit.
	MaxContextTokens int
	// Temperature and MaxTokens tune the model call (0 keeps model defaults).
	Temperature float32
	MaxTokens   int
	// Timeout bounds the model call.
	Timeout time.Duration
}

// Answerer answers student questions from retrieved course context.
type Answerer struct {
	retriever *rag.Retriever
	model     model.BaseChatModel
	cfg       AnswererConfig
	log       *slog.Logger
}

// NewAnswerer constructs an Answerer.
func NewAnswerer(retriever *rag.Retriever, m model.BaseChatModel, cfg AnswererConfig, log *slog.Logger) (*Answerer, error) {
	if retriever == nil {
		return nil, fmt.Errorf("generator: retriever must not be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if log == nil {
		log = slog.Default()
	}
	return &Answerer{retriever: retriever, model: m, cfg: cfg, log: log}, nil
}

// Answer retrieves context for question within courseID (empty searches
// every course) and generates a grounded answer. A retrieval failure is
// reported without calling the model; a generation failure keeps the sources.
func (a *Answerer) Answer(ctx context.Context, question, courseID string) Answer {
	log := logging.FromContext(ctx).With(slog.String("course_id", courseID))

	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{Sources: []rag.Source{}, Error: "Pergunta vazia."}
	}

	r := a.retriever.Retrieve(ctx, question, courseID, a.cfg.Limit)
	if r.Err != nil {
		log.Error("generator: retrieval failed", slog.Any("error", r.Err))
		return Answer{Sources: []rag.Source{}, Error: msgRetrievalFailed}
	}

	prompt := a.buildPrompt(question, r)
	reply, err := complete(ctx, a.model, call{
		name:        "chat",
		user:        prompt,
		temperature: a.cfg.Temperature,
		maxTokens:   a.cfg.MaxTokens,
		timeout:     a.cfg.Timeout,
	})
	if err != nil {
		log.Error("generator: answer generation failed", slog.Any("error", err))
		return Answer{Sources: r.Sources, Error: msgGenerationFailed}
	}

	log.Info("generator: answer generated",
		slog.Int("hits", len(r.Hits)),
		slog.Int("sources", len(r.Sources)),
	)
	return Answer{Response: reply, Sources: r.Sources}
}

// buildPrompt fills the answer template, dropping the lowest-ranked chunks
// when the context would exceed the token budget.
func (a *Answerer) buildPrompt(question string, r rag.Retrieval) string {
	if !r.HasContext() {
		return fmt.Sprintf(answerPrompt, r.Context, question)
	}
	texts := make([]string, 0, len(r.Hits))
	for _, h := range r.Hits {
		if t := h.Text; t != "" {
			texts = append(texts, t)
		}
	}
	fixed := []*schema.Message{schema.UserMessage(fmt.Sprintf(answerPrompt, "", question))}
	kept := budget.TrimChunks(fixed, texts, a.cfg.MaxContextTokens)
	if dropped := len(texts) - len(kept); dropped > 0 {
		a.log.Warn("budget: dropped retrieved chunks to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(kept)),
			slog.Int("max_tokens", a.cfg.MaxContextTokens),
		)
	}
	ctxText := rag.NoContextPlaceholder
	if len(kept) > 0 {
		ctxText = strings.Join(kept, rag.ContextSeparator)
	}
	return fmt.Sprintf(answerPrompt, ctxText, question)
}
