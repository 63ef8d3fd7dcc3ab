// Package audit writes structured audit records for CLI command starts and
// LMS login attempts. Secrets appear only as "set" or "unset"; LMS usernames
// are masked and passwords are never passed in.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/chatedu-go/internal/config"
)

// secretKeys holds every env var the config schema marks secret.
var secretKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, k := range config.EnvKeys() {
		if k.Secret {
			m[k.Name] = true
		}
	}
	return m
}()

// LogCommandStart records a command invocation with its config file and the
// resolved value (or, for secrets, presence) of every set config env var.
// Unset non-secret variables are left out to keep the record short.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, k := range config.EnvKeys() {
		val := os.Getenv(k.Name)
		if val == "" && !k.Secret {
			continue
		}
		attrs = append(attrs, slog.String(k.Name, SanitiseKey(k.Name, val)))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// Login outcomes recorded by LogLogin.
const (
	LoginSuccess = "success"
	LoginDenied  = "denied"
	LoginFailed  = "error"
)

// LogLogin records an LMS login attempt.
func LogLogin(ctx context.Context, log *slog.Logger, username, outcome string, courses int) {
	log.LogAttrs(ctx, slog.LevelInfo, "audit: lms login",
		slog.String("user", maskUser(username)),
		slog.String("outcome", outcome),
		slog.Int("courses", courses),
	)
}

// maskUser keeps the first rune of u.
func maskUser(u string) string {
	r := []rune(u)
	if len(r) == 0 {
		return "unset"
	}
	return string(r[0]) + strings.Repeat("*", len(r)-1)
}

// SanitiseKey returns value, or only its presence when key is secret.
func SanitiseKey(key, value string) string {
	if secretKeys[key] {
		return presence(value)
	}
	if value == "" {
		return "unset"
	}
	return value
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// sanitiseConfigPath shortens the home directory to "~".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
