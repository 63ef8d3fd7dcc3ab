package embedder

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
)

// Backends lists the accepted EMBEDDING_PROVIDER values.
var Backends = []string{"ollama", "openai", "azure"}

// Settings is the resolved embedding configuration.
type Settings struct {
	// Backend is one of Backends.
	Backend string
	// Model is the embedding model (or Azure deployment) name.
	Model string
	// Endpoint is the backend base URL.
	Endpoint string
	// APIKey authenticates against openai/azure.
	APIKey string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Dimensions requests a specific vector size where the model supports it.
	Dimensions int
	// KeepAlive is how long Ollama keeps the model loaded (OLLAMA_KEEP_ALIVE).
	KeepAlive string
}

// SettingsFromEnv resolves embedding settings using cascading defaults that
// inherit from the chat provider configuration when embedding-specific
// overrides are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER when it names an embedding
//     backend, else ollama
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS requests a vector size (openai/azure only)
func SettingsFromEnv() (Settings, error) {
	backend := getEnv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnv("MODEL_PROVIDER")
		if !isBackend(backend) {
			// Chat-only providers such as groq have no embeddings API.
			backend = "ollama"
		}
	}

	s := Settings{Backend: backend, Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0)}
	switch backend {
	case "ollama":
		s.Endpoint = firstNonEmpty(getEnv("EMBEDDING_ENDPOINT"), getEnv("OLLAMA_HOST"), "http://localhost:11434")
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		s.KeepAlive = getEnv("OLLAMA_KEEP_ALIVE")

	case "openai":
		s.APIKey = firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("OPENAI_API_KEY"))
		if s.APIKey == "" {
			return Settings{}, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		s.Endpoint = firstNonEmpty(getEnv("EMBEDDING_ENDPOINT"), getEnv("OPENAI_BASE_URL"))
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)

	case "azure":
		s.APIKey = firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("AZURE_OPENAI_API_KEY"))
		if s.APIKey == "" {
			return Settings{}, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		s.Endpoint = firstNonEmpty(getEnv("EMBEDDING_ENDPOINT"), getEnv("AZURE_OPENAI_ENDPOINT"))
		if s.Endpoint == "" {
			return Settings{}, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		s.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
		s.Model = getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel)

	default:
		return Settings{}, fmt.Errorf("embedder: unknown backend %q; valid values: %s", backend, strings.Join(Backends, ", "))
	}
	return s, nil
}

// NewBackend constructs the Backend described by s.
func NewBackend(s Settings) (Backend, error) {
	switch s.Backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: s.Endpoint, Model: s.Model, KeepAlive: s.KeepAlive}), nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    s.Endpoint,
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
		}), nil
	case "azure":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    s.Endpoint,
			APIKey:     s.APIKey,
			Model:      s.Model,
			Dimensions: s.Dimensions,
			Azure:      true,
			APIVersion: s.APIVersion,
		}), nil
	default:
		return nil, fmt.Errorf("embedder: unknown backend %q", s.Backend)
	}
}

func isBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
