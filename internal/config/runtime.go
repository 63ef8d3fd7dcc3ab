package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Vector store modes accepted by QDRANT_MODE.
const (
	ModeMemory = "memory"
	ModeURL    = "url"
)

// Defaults applied by RuntimeFromEnv.
const (
	DefaultCollection     = "chat-edu"
	DefaultPDFDir         = "./data"
	DefaultRetrievalLimit = 10
	DefaultQdrantHost     = "localhost"
	DefaultQdrantPort     = 6334
	DefaultServerHost     = "0.0.0.0"
	DefaultServerPort     = 8000
	DefaultCORSOrigin     = "http://localhost:3000"
	DefaultEmbedTimeout   = 30 * time.Second
	DefaultSearchTimeout  = 10 * time.Second
	DefaultGenTimeout     = 60 * time.Second
)

// Runtime is the typed view of the application settings that are not owned
// by the provider or embedder packages. It is read after Load so YAML and
// env values are already merged.
type Runtime struct {
	QdrantMode     string
	QdrantHost     string
	QdrantPort     int
	QdrantAPIKey   string
	QdrantTLS      bool
	Collection     string
	PDFDir         string
	ChunkSize      int
	ChunkOverlap   int // -1 when unset
	RetrievalLimit int
	ServerHost     string
	ServerPort     int
	APIKey         string
	CORSOrigins    []string
	DBPath         string

	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
}

// RuntimeFromEnv resolves Runtime from the environment. QDRANT_MODE defaults
// to memory unless QDRANT_HOST is set.
func RuntimeFromEnv() (Runtime, error) {
	r := Runtime{
		QdrantHost:   envOr("QDRANT_HOST", DefaultQdrantHost),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		Collection:   envOr("QDRANT_COLLECTION", DefaultCollection),
		PDFDir:       envOr("PDF_DIR", DefaultPDFDir),
		ServerHost:   envOr("CHATEDU_HOST", DefaultServerHost),
		APIKey:       os.Getenv("CHATEDU_API_KEY"),
		CORSOrigins:  splitList(envOr("CORS_ALLOWED_ORIGINS", DefaultCORSOrigin)),
		DBPath:       os.Getenv("CHATEDU_DB"),
	}

	r.QdrantMode = strings.ToLower(strings.TrimSpace(os.Getenv("QDRANT_MODE")))
	if r.QdrantMode == "" {
		r.QdrantMode = ModeMemory
		if os.Getenv("QDRANT_HOST") != "" {
			r.QdrantMode = ModeURL
		}
	}
	if r.QdrantMode != ModeMemory && r.QdrantMode != ModeURL {
		return Runtime{}, fmt.Errorf("config: QDRANT_MODE %q is not one of %s, %s", r.QdrantMode, ModeMemory, ModeURL)
	}

	var err error
	if r.QdrantPort, err = envInt("QDRANT_PORT", DefaultQdrantPort); err != nil {
		return Runtime{}, err
	}
	if r.QdrantTLS, err = envBool("QDRANT_TLS"); err != nil {
		return Runtime{}, err
	}
	if r.ChunkSize, err = envInt("CHUNK_SIZE", 0); err != nil {
		return Runtime{}, err
	}
	if r.ChunkOverlap, err = envInt("CHUNK_OVERLAP", -1); err != nil {
		return Runtime{}, err
	}
	if r.RetrievalLimit, err = envInt("RETRIEVAL_LIMIT", DefaultRetrievalLimit); err != nil {
		return Runtime{}, err
	}
	if r.RetrievalLimit <= 0 {
		return Runtime{}, fmt.Errorf("config: RETRIEVAL_LIMIT must be positive, got %d", r.RetrievalLimit)
	}
	if r.ServerPort, err = envInt("CHATEDU_PORT", DefaultServerPort); err != nil {
		return Runtime{}, err
	}
	if r.EmbedTimeout, err = envDuration("EMBED_TIMEOUT", DefaultEmbedTimeout); err != nil {
		return Runtime{}, err
	}
	if r.SearchTimeout, err = envDuration("SEARCH_TIMEOUT", DefaultSearchTimeout); err != nil {
		return Runtime{}, err
	}
	if r.GenerateTimeout, err = envDuration("GENERATE_TIMEOUT", DefaultGenTimeout); err != nil {
		return Runtime{}, err
	}
	return r, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, v)
	}
	return n, nil
}

// envDuration accepts a Go duration ("45s") or a bare number of seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("config: %s must be a duration, got %q", key, v)
	}
	return d, nil
}

func envBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, v)
	}
	return b, nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
