// Package generator turns retrieved course material into student-facing
// output: grounded answers, flashcards, and mind maps. Every generator calls
// an eino chat model and degrades to an error field or a fallback value
// instead of failing the request.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/chatedu-go/internal/tracing"
)

// DefaultTimeout bounds one model call when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("generator: empty model response")

// call carries the per-request generation settings.
type call struct {
	// name labels the run for tracing, e.g. "chat".
	name        string
	system      string
	user        string
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

// complete sends one system+user exchange and returns the trimmed reply.
func complete(ctx context.Context, m model.BaseChatModel, c call) (string, error) {
	timeout := c.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.name != "" {
		ctx = tracing.WithRun(ctx, c.name)
	}

	msgs := make([]*schema.Message, 0, 2)
	if c.system != "" {
		msgs = append(msgs, schema.SystemMessage(c.system))
	}
	msgs = append(msgs, schema.UserMessage(c.user))

	var opts []model.Option
	if c.temperature > 0 {
		opts = append(opts, model.WithTemperature(c.temperature))
	}
	if c.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.maxTokens))
	}

	resp, err := m.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("generator: generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Content), nil
}

// StripFences removes a surrounding Markdown code fence (``` or ```json)
// from a model reply. Text without a fence is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the language tag line, e.g. "json".
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, "{[") {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
