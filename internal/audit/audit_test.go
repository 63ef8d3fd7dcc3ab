package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("OPENAI_API_KEY", "sk-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("OPENAI_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("MODEL_PROVIDER", "groq"); got != "groq" {
		t.Errorf("expected 'groq', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestPresence(t *testing.T) {
	t.Parallel()
	if got := presence("something"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := presence(""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.chatedu/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.chatedu/config.yaml" {
			t.Errorf("expected '~/.chatedu/config.yaml', got %q", got)
		}
	}
}

func TestSanitiseKey_ChatEduSecrets(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"CHATEDU_API_KEY", "GROQ_API_KEY", "ARK_API_KEY", "LANGFUSE_PUBLIC_KEY"} {
		if got := SanitiseKey(k, "value"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", k, got)
		}
	}
}

func TestMaskUser(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"", "unset"},
		{"a", "a"},
		{"aluno", "a****"},
		{"joão", "j***"},
	}
	for _, tt := range tests {
		if got := maskUser(tt.in); got != tt.want {
			t.Errorf("maskUser(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLogLogin(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	LogLogin(context.Background(), log, "aluno", LoginSuccess, 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["user"] != "a****" || rec["outcome"] != LoginSuccess || rec["courses"] != float64(3) {
		t.Errorf("unexpected record: %v", rec)
	}
	if strings.Contains(buf.String(), "aluno") {
		t.Errorf("username leaked: %s", buf.String())
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("CHATEDU_API_KEY", "super-secret")
	t.Setenv("QDRANT_MODE", "memory")
	t.Setenv("QDRANT_HOST", "")
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	LogCommandStart(log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "super-secret") {
		t.Errorf("secret leaked: %s", out)
	}
	if !strings.Contains(out, `"QDRANT_MODE":"memory"`) || !strings.Contains(out, `"CHATEDU_API_KEY":"set"`) {
		t.Errorf("unexpected audit record: %s", out)
	}
	if strings.Contains(out, `"QDRANT_HOST"`) {
		t.Errorf("unset non-secret keys should be omitted: %s", out)
	}
}
