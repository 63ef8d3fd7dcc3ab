package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/chatedu-go/internal/budget"
	"github.com/54b3r/chatedu-go/internal/logging"
)

const (
	// mindMapChars caps the course text sent to the model.
	mindMapChars = 8000
	// mindMapTopics and mindMapSubtopics bound the requested tree shape.
	mindMapTopics    = 5
	mindMapSubtopics = 3

	mindMapSystem = "Você é um especialista em criar mapas mentais educacionais. Responda sempre e APENAS com JSON válido conforme as instruções."

	// RootID is the id of the central node.
	RootID = "root"
)

// mindMapPrompt placeholders: course name, text, topic range, subtopic range,
// course name (root label).
const mindMapPrompt = `Você é um especialista em estruturação de conhecimento educacional e criação de mapas mentais.
Baseado no conteúdo do curso "%[1]s" fornecido abaixo, crie um mapa mental estruturado.

CONTEÚDO DO CURSO (resumo ou trechos principais):
%[2]s

INSTRUÇÕES DETALHADAS PARA O MAPA MENTAL:
1.  NÓ RAIZ: Deve representar o tema central do curso.
    - Use o ID "root".
    - Use o type "input".
    - O "label" deve ser "%[1]s".
    - Inclua uma "description" concisa, resumindo o curso em 1-2 frases.
2.  TÓPICOS PRINCIPAIS: Identifique de %[3]d a %[4]d tópicos principais (pilares do curso).
    - IDs no formato "topic-1", "topic-2", etc.
    - Para cada um, um "label" claro e uma "description" breve (1-2 frases).
3.  SUB-TÓPICOS: Para cada TÓPICO PRINCIPAL, identifique de %[5]d a %[6]d sub-conceitos ou detalhes importantes.
    - IDs no formato "subtopic-1-1" (para o primeiro sub-tópico do topic-1), "subtopic-1-2", etc.
    - Para cada um, um "label" e uma "description" ainda mais curta (1 frase idealmente).
4.  QUALIDADE DOS RÓTULOS (label): Devem ser concisos, informativos (idealmente de 1 a 5 palavras).
5.  QUALIDADE DAS DESCRIÇÕES (description): Devem ser BREVES, conceituais e agregar valor. Evite redundância com o rótulo.
6.  FOCO: Concentre-se em conceitos, teorias, definições fundamentais e relações importantes. Evite exemplos numéricos ou referências a exercícios específicos.
7.  ARESTAS (edges): Conecte o nó raiz aos tópicos principais, e os tópicos principais aos seus sub-tópicos. Use IDs como "edge-root-topic-1", "edge-topic-1-subtopic-1-1".

FORMATO DE SAÍDA ESTRITAMENTE JSON:
Responda APENAS com um objeto JSON contendo duas chaves: "nodes" e "edges".
- "nodes": array de nós. Cada nó DEVE ter "id" (string única) e "data" com "label" e "description". "type": "input" apenas no nó raiz.
- "edges": array de arestas. Cada aresta DEVE ter "id", "source" e "target"; "animated" é opcional.

Não inclua nenhum texto, explicação ou formatação de markdown antes ou depois do objeto JSON.`

// NodeData is the visible content of a mind-map node.
type NodeData struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Node is one mind-map node in React Flow shape.
type Node struct {
	ID   string   `json:"id"`
	Type string   `json:"type,omitempty"`
	Data NodeData `json:"data"`
}

// Edge connects two nodes.
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Animated bool   `json:"animated,omitempty"`
}

// MindMap is the node/edge structure rendered by the front end.
type MindMap struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	// Fallback is true when generation failed and the placeholder map was returned.
	Fallback bool `json:"fallback,omitempty"`
}

// MindMapsConfig configures a MindMaps generator.
type MindMapsConfig struct {
	// ContentLimit caps the chunks read per course.
	ContentLimit int
	// Temperature defaults to 0.2 and MaxTokens to 4000.
	Temperature float32
	MaxTokens   int
	// Timeout bounds the model call.
	Timeout time.Duration
}

// MindMaps generates a course mind map from stored chunks.
type MindMaps struct {
	content CourseContent
	model   model.BaseChatModel
	cfg     MindMapsConfig
}

// NewMindMaps constructs a MindMaps generator.
func NewMindMaps(content CourseContent, m model.BaseChatModel, cfg MindMapsConfig) (*MindMaps, error) {
	if content == nil {
		return nil, fmt.Errorf("generator: course content must not be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil")
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	return &MindMaps{content: content, model: m, cfg: cfg}, nil
}

// Generate builds the mind map of courseID labelled with courseName (the id
// when empty). Missing content, model failure, or an invalid structure
// returns the fallback map; Generate never fails.
func (g *MindMaps) Generate(ctx context.Context, courseID, courseName string) MindMap {
	log := logging.FromContext(ctx).With(slog.String("course_id", courseID))
	if courseName == "" {
		courseName = courseID
	}

	texts := courseTexts(ctx, g.content, courseID, g.cfg.ContentLimit)
	if len(texts) == 0 {
		log.Warn("generator: no content for mind map")
		return FallbackMindMap(courseName, "Nenhum conteúdo encontrado para este curso.")
	}
	text := budget.Truncate(strings.Join(texts, " "), mindMapChars)

	prompt := fmt.Sprintf(mindMapPrompt, courseName, text,
		mindMapTopics-1, mindMapTopics, mindMapSubtopics-1, mindMapSubtopics)
	reply, err := complete(ctx, g.model, call{
		name:        "mindmap",
		system:      mindMapSystem,
		user:        prompt,
		temperature: g.cfg.Temperature,
		maxTokens:   g.cfg.MaxTokens,
		timeout:     g.cfg.Timeout,
	})
	if err != nil {
		log.Error("generator: mind map generation failed", slog.Any("error", err))
		return FallbackMindMap(courseName, "Erro na comunicação com a API de IA.")
	}

	mm, err := ParseMindMap(reply)
	if err != nil {
		log.Error("generator: invalid mind map structure", slog.Any("error", err))
		return FallbackMindMap(courseName, "LLM retornou estrutura de mapa mental inválida.")
	}
	log.Info("generator: mind map generated", slog.Int("nodes", len(mm.Nodes)), slog.Int("edges", len(mm.Edges)))
	return mm
}

// ErrInvalidMindMap is wrapped by ParseMindMap for structural violations.
var ErrInvalidMindMap = errors.New("generator: invalid mind map")

// rawNode and rawEdge keep required fields as pointers so absence is
// distinguishable from an empty string.
type rawNode struct {
	ID   *string `json:"id"`
	Type string  `json:"type"`
	Data *struct {
		Label       *string `json:"label"`
		Description *string `json:"description"`
	} `json:"data"`
}

type rawEdge struct {
	ID       *string `json:"id"`
	Source   *string `json:"source"`
	Target   *string `json:"target"`
	Animated bool    `json:"animated"`
}

// ParseMindMap decodes and validates a model reply. The structure must hold
// a non-empty nodes list and an edges list; every node needs a string id and
// data.label (description, when present, must be a string); a node with id
// "root" must exist; every edge needs string id, source and target.
func ParseMindMap(reply string) (MindMap, error) {
	var raw struct {
		Nodes *[]rawNode `json:"nodes"`
		Edges *[]rawEdge `json:"edges"`
	}
	if err := json.Unmarshal([]byte(StripFences(reply)), &raw); err != nil {
		return MindMap{}, fmt.Errorf("%w: %v", ErrInvalidMindMap, err)
	}
	if raw.Nodes == nil || raw.Edges == nil {
		return MindMap{}, fmt.Errorf("%w: nodes and edges are required", ErrInvalidMindMap)
	}
	if len(*raw.Nodes) == 0 {
		return MindMap{}, fmt.Errorf("%w: no nodes", ErrInvalidMindMap)
	}

	mm := MindMap{Nodes: make([]Node, 0, len(*raw.Nodes)), Edges: make([]Edge, 0, len(*raw.Edges))}
	hasRoot := false
	for i, n := range *raw.Nodes {
		if n.ID == nil || n.Data == nil || n.Data.Label == nil {
			return MindMap{}, fmt.Errorf("%w: node %d lacks id or data.label", ErrInvalidMindMap, i)
		}
		node := Node{ID: *n.ID, Type: n.Type, Data: NodeData{Label: *n.Data.Label}}
		if n.Data.Description != nil {
			node.Data.Description = *n.Data.Description
		}
		if node.ID == RootID {
			hasRoot = true
		}
		mm.Nodes = append(mm.Nodes, node)
	}
	if !hasRoot {
		return MindMap{}, fmt.Errorf("%w: no %q node", ErrInvalidMindMap, RootID)
	}
	for i, e := range *raw.Edges {
		if e.ID == nil || e.Source == nil || e.Target == nil {
			return MindMap{}, fmt.Errorf("%w: edge %d lacks id, source or target", ErrInvalidMindMap, i)
		}
		mm.Edges = append(mm.Edges, Edge{ID: *e.ID, Source: *e.Source, Target: *e.Target, Animated: e.Animated})
	}
	return mm, nil
}

// FallbackMindMap is the placeholder returned when generation fails.
func FallbackMindMap(courseName, reason string) MindMap {
	return MindMap{
		Nodes: []Node{
			{
				ID:   RootID,
				Type: "input",
				Data: NodeData{
					Label:       courseName,
					Description: fmt.Sprintf("Não foi possível gerar o mapa mental detalhado. (%s)", reason),
				},
			},
			{
				ID: "fallback-info",
				Data: NodeData{
					Label:       "Informação Indisponível",
					Description: "Tente novamente mais tarde ou verifique o conteúdo do curso.",
				},
			},
		},
		Edges: []Edge{
			{ID: "edge-root-fallback", Source: RootID, Target: "fallback-info", Animated: true},
		},
		Fallback: true,
	}
}
