// Package config loads chatedu settings. Every component reads its settings
// from environment variables; an optional YAML file only fills variables
// that are still unset, so env (including a .env file) always wins.
//
// The first existing file is used:
//  1. the --config flag
//  2. $CHATEDU_CONFIG
//  3. ~/.chatedu/config.yaml
//  4. ./chatedu.yaml
//
// RuntimeFromEnv then parses and validates the resolved environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the environment: every leaf carries the env var it feeds
// in its env tag. A ",secret" option marks values that must never be logged.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Server    ServerConfig    `yaml:"server"`
	DB        DBConfig        `yaml:"db"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ModelConfig selects and tunes the chat model.
type ModelConfig struct {
	// Provider is one of ollama, openai, azure, groq, ark, gemini.
	Provider    string  `yaml:"provider" env:"MODEL_PROVIDER"`
	MaxTokens   int     `yaml:"max_tokens" env:"MODEL_MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"MODEL_TEMPERATURE"`

	Ollama struct {
		Host      string `yaml:"host" env:"OLLAMA_HOST"`
		Model     string `yaml:"model" env:"OLLAMA_MODEL"`
		KeepAlive string `yaml:"keep_alive" env:"OLLAMA_KEEP_ALIVE"`
	} `yaml:"ollama"`

	OpenAI struct {
		APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY,secret"`
		BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
		Model   string `yaml:"model" env:"OPENAI_MODEL"`
	} `yaml:"openai"`

	Azure struct {
		APIKey     string `yaml:"api_key" env:"AZURE_OPENAI_API_KEY,secret"`
		Endpoint   string `yaml:"endpoint" env:"AZURE_OPENAI_ENDPOINT"`
		Deployment string `yaml:"deployment" env:"AZURE_OPENAI_DEPLOYMENT"`
		APIVersion string `yaml:"api_version" env:"AZURE_OPENAI_API_VERSION"`
	} `yaml:"azure"`

	// Groq speaks the OpenAI protocol.
	Groq struct {
		APIKey  string `yaml:"api_key" env:"GROQ_API_KEY,secret"`
		BaseURL string `yaml:"base_url" env:"GROQ_BASE_URL"`
		Model   string `yaml:"model" env:"GROQ_MODEL"`
	} `yaml:"groq"`

	Ark struct {
		APIKey  string `yaml:"api_key" env:"ARK_API_KEY,secret"`
		BaseURL string `yaml:"base_url" env:"ARK_BASE_URL"`
		Model   string `yaml:"model" env:"ARK_MODEL"`
	} `yaml:"ark"`

	Gemini struct {
		APIKey string `yaml:"api_key" env:"GOOGLE_API_KEY,secret"`
		Model  string `yaml:"model" env:"GEMINI_MODEL"`
	} `yaml:"gemini"`
}

// EmbeddingConfig selects the embedding backend. Unset fields inherit from
// the chat provider, see embedder.SettingsFromEnv.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider" env:"EMBEDDING_PROVIDER"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS"`
	APIKey     string `yaml:"api_key" env:"EMBEDDING_API_KEY,secret"`
	Endpoint   string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT"`
	// Timeout bounds each embedding request, in seconds or as a duration.
	Timeout string `yaml:"timeout" env:"EMBED_TIMEOUT"`
}

// QdrantConfig selects the vector index.
type QdrantConfig struct {
	// Mode is "memory" for the in-process index or "url" for a server.
	Mode       string `yaml:"mode" env:"QDRANT_MODE"`
	Host       string `yaml:"host" env:"QDRANT_HOST"`
	Port       int    `yaml:"port" env:"QDRANT_PORT"`
	Collection string `yaml:"collection" env:"QDRANT_COLLECTION"`
	APIKey     string `yaml:"api_key" env:"QDRANT_API_KEY,secret"`
	TLS        bool   `yaml:"tls" env:"QDRANT_TLS"`
	// SearchTimeout bounds each similarity search.
	SearchTimeout string `yaml:"search_timeout" env:"SEARCH_TIMEOUT"`
}

// IngestionConfig locates course PDFs and sizes their chunks.
type IngestionConfig struct {
	// PDFDir holds one subdirectory per course.
	PDFDir       string `yaml:"pdf_dir" env:"PDF_DIR"`
	ChunkSize    int    `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap int    `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
}

// RetrievalConfig tunes question answering.
type RetrievalConfig struct {
	Limit int `yaml:"limit" env:"RETRIEVAL_LIMIT"`
	// GenerateTimeout bounds each chat model call.
	GenerateTimeout string `yaml:"generate_timeout" env:"GENERATE_TIMEOUT"`
}

// ServerConfig configures `chatedu serve`.
type ServerConfig struct {
	Host   string `yaml:"host" env:"CHATEDU_HOST"`
	Port   int    `yaml:"port" env:"CHATEDU_PORT"`
	APIKey string `yaml:"api_key" env:"CHATEDU_API_KEY,secret"`
	// CORSAllowedOrigins is comma-separated; "*" allows any origin.
	CORSAllowedOrigins string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// DBConfig locates the SQLite ingestion registry; "disabled" turns it off.
type DBConfig struct {
	Path string `yaml:"path" env:"CHATEDU_DB"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type TracingConfig struct {
	PublicKey string `yaml:"public_key" env:"LANGFUSE_PUBLIC_KEY,secret"`
	SecretKey string `yaml:"secret_key" env:"LANGFUSE_SECRET_KEY,secret"`
	Host      string `yaml:"host" env:"LANGFUSE_HOST"`
}

// EnvKey is one environment variable known to the config schema.
type EnvKey struct {
	Name   string
	Secret bool
}

// EnvKeys lists every env var in Config in declaration order.
func EnvKeys() []EnvKey {
	var keys []EnvKey
	walkEnv(reflect.ValueOf(Config{}), func(k EnvKey, _ reflect.Value) {
		keys = append(keys, k)
	})
	return keys
}

// walkEnv calls fn for every env-tagged leaf under v.
func walkEnv(v reflect.Value, fn func(EnvKey, reflect.Value)) {
	t := v.Type()
	for i := range t.NumField() {
		f, fv := t.Field(i), v.Field(i)
		if f.Type.Kind() == reflect.Struct {
			walkEnv(fv, fn)
			continue
		}
		tag, ok := f.Tag.Lookup("env")
		if !ok {
			continue
		}
		name, opt, _ := strings.Cut(tag, ",")
		fn(EnvKey{Name: name, Secret: opt == "secret"}, fv)
	}
}

// envString renders a YAML leaf as an env value. Zero values render empty
// so they never shadow a default.
func envString(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int:
		if v.Int() == 0 {
			return ""
		}
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float32:
		if v.Float() == 0 {
			return ""
		}
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Bool:
		if !v.Bool() {
			return ""
		}
		return "true"
	default:
		return ""
	}
}

// Load finds the config file, and exports each non-empty value to the env
// var named by its tag unless that variable is already set. It returns the
// loaded path, or "" when no file exists.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if log == nil {
		log = slog.Default()
	}
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	var setErr error
	walkEnv(reflect.ValueOf(cfg), func(k EnvKey, v reflect.Value) {
		val := envString(v)
		if setErr != nil || val == "" || os.Getenv(k.Name) != "" {
			return
		}
		if err := os.Setenv(k.Name, val); err != nil {
			setErr = fmt.Errorf("config: failed to set %s: %w", k.Name, err)
			return
		}
		applied++
	})
	if setErr != nil {
		return "", setErr
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("CHATEDU_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".chatedu", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("chatedu.yaml"); err == nil {
		return "chatedu.yaml"
	}

	return ""
}
