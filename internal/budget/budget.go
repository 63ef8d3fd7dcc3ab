// Package budget provides token budget estimation and text trimming for the
// generators. Because several LLM backends with different tokenizers are
// supported, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters. It under-estimates token counts to leave headroom
// for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits 8k-context models (Llama 3 8B on Groq) with room for the answer.
	DefaultMaxContextTokens = 6000

	// Ellipsis is appended to text cut by Truncate.
	Ellipsis = "..."
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Per-message overhead is ~4 tokens in most APIs.
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Truncate returns s unchanged when it has at most maxRunes runes; otherwise
// it returns the first maxRunes runes followed by Ellipsis. Cutting on runes
// keeps accented Portuguese text valid UTF-8.
func Truncate(s string, maxRunes int) string {
	if maxRunes < 0 {
		maxRunes = 0
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}

// TrimChunks drops retrieved chunks from the end (lowest ranked first) until
// fixed plus the remaining chunks fit within maxTokens. Each chunk is counted
// with the separator overhead of one extra token.
//
// If even an empty chunk list exceeds the budget, the empty slice is returned
// (fixed messages are never dropped here; callers warn separately).
func TrimChunks(fixed []*schema.Message, chunks []string, maxTokens int) []string {
	used := EstimateMessages(fixed)
	for i, c := range chunks {
		used += Estimate(c) + 1
		if used > maxTokens {
			return chunks[:i]
		}
	}
	return chunks
}
