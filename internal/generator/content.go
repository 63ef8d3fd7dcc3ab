package generator

import (
	"context"
	"strings"

	"github.com/54b3r/chatedu-go/internal/rag"
)

// DefaultContentLimit caps how many chunks of a course are read for
// flashcard and mind-map generation.
const DefaultContentLimit = 1000

// CourseContent reads stored chunks of one course. rag.VectorIndex
// satisfies it.
type CourseContent interface {
	GetAllByCourse(ctx context.Context, courseID string, limit int) []rag.Payload
}

// courseTexts returns the non-blank chunk texts of courseID in storage order.
func courseTexts(ctx context.Context, src CourseContent, courseID string, limit int) []string {
	if limit <= 0 {
		limit = DefaultContentLimit
	}
	payloads := src.GetAllByCourse(ctx, courseID, limit)
	texts := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if t := strings.TrimSpace(p.Text()); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}
