package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/chatedu-go/internal/logging"
)

// apiKeyHeader is the alternative to a bearer token, used by the web front
// end and MCP clients that cannot set Authorization.
const apiKeyHeader = "X-API-Key"

// authMiddleware requires CHATEDU_API_KEY on every request, presented either
// as "Authorization: Bearer <key>" or in the X-API-Key header. An empty
// apiKey disables the check. The presented value is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		got, source := presentedKey(r)
		switch {
		case got == "":
			log.Warn("auth: no API key presented", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="chatedu"`)
			writeError(w, http.StatusUnauthorized, "authorization required", log)
		case subtle.ConstantTimeCompare([]byte(got), want) != 1:
			log.Warn("auth: invalid API key",
				slog.String("path", r.URL.Path),
				slog.String("source", source),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="chatedu", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid API key", log)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// presentedKey returns the key the client sent and where it came from.
// A bearer token wins over X-API-Key.
func presentedKey(r *http.Request) (key, source string) {
	if tok := bearerToken(r); tok != "" {
		return tok, "bearer"
	}
	if k := strings.TrimSpace(r.Header.Get(apiKeyHeader)); k != "" {
		return k, "header"
	}
	return "", ""
}

// bearerToken extracts <token> from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
