package embedder

import (
	"fmt"
	"os"
	"strconv"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultFakeDimensions is the vector size of the offline fake embedder.
	defaultFakeDimensions = 64
)

// NewFromEnv constructs an Embedder from environment variables.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER selects the backend: ollama, openai, or fake
//     (default: fake, so the pipeline works with no external services)
//  2. EMBEDDING_MODEL overrides the default model for the resolved backend
//  3. EMBEDDING_API_KEY / OPENAI_API_KEY supply credentials for openai
//  4. EMBEDDING_ENDPOINT overrides the backend base URL
//  5. EMBEDDING_DIMENSIONS overrides the default vector size
func NewFromEnv() (Embedder, error) {
	backend := getEnvOrDefault("EMBEDDING_PROVIDER", "fake")

	switch backend {
	case "ollama":
		host := os.Getenv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       host,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaultOllamaDimensions),
		}), nil

	case "openai":
		apiKey := os.Getenv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		baseURL := os.Getenv("EMBEDDING_ENDPOINT")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
		}), nil

	case "fake":
		return NewFake(getEnvInt("EMBEDDING_DIMENSIONS", defaultFakeDimensions)), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, fake)", backend)
	}
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
