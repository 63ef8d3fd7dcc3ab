// Package tracing wires optional Langfuse tracing into eino model calls.
// Tracing is opt-in: without LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY
// every function here is a no-op.
package tracing

import (
	"context"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
)

// defaultHost is used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Settings holds the Langfuse connection values.
type Settings struct {
	Host      string
	PublicKey string
	SecretKey string
}

// SettingsFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY. ok is false when either key is missing.
func SettingsFromEnv() (Settings, bool) {
	s := Settings{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
	if s.PublicKey == "" || s.SecretKey == "" {
		return Settings{}, false
	}
	if s.Host == "" {
		s.Host = defaultHost
	}
	return s, true
}

// Setup installs the Langfuse callback handler globally when configured.
// The returned flush function must be called before process exit so queued
// traces are sent; it is a no-op when tracing is disabled.
func Setup() (flush func(), enabled bool) {
	s, ok := SettingsFromEnv()
	if !ok {
		return func() {}, false
	}

	handler, flusher := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      s.Host,
		PublicKey: s.PublicKey,
		SecretKey: s.SecretKey,
		Name:      "chatedu",
	})
	callbacks.AppendGlobalHandlers(handler)
	return flusher, true
}

// WithRun marks ctx as one named chat model run so global handlers (Langfuse)
// receive start and end events from the model call made with it.
func WithRun(ctx context.Context, name string) context.Context {
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      "chatedu",
		Component: components.ComponentOfChatModel,
	})
}
