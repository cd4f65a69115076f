package llm

import (
	"fmt"
	"os"
)

// Default chat models per backend.
const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOllamaModel = "llama3.1"
)

// NewFromEnv constructs a Gateway from environment variables.
//
// LLM_PROVIDER selects the backend: openai, ollama, or none (default: none,
// which runs the gateway in demo mode with no outbound calls). LLM_MODEL
// overrides the backend's default model; LLM_API_KEY / OPENAI_API_KEY supply
// credentials for openai; LLM_ENDPOINT overrides the backend base URL.
func NewFromEnv(cfg GatewayConfig) (*Gateway, error) {
	provider := os.Getenv("LLM_PROVIDER")

	switch provider {
	case "", "none":
		return NewGateway(nil, cfg), nil

	case "openai":
		apiKey := os.Getenv("LLM_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("llm: openai requires OPENAI_API_KEY or LLM_API_KEY")
		}
		model := os.Getenv("LLM_MODEL")
		if model == "" {
			model = defaultOpenAIModel
		}
		client := NewOpenAIClient(&OpenAIClientConfig{
			BaseURL: os.Getenv("LLM_ENDPOINT"),
			APIKey:  apiKey,
			Model:   model,
		})
		return NewGateway(client, cfg), nil

	case "ollama":
		host := os.Getenv("LLM_ENDPOINT")
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = "http://localhost:11434"
		}
		model := os.Getenv("LLM_MODEL")
		if model == "" {
			model = defaultOllamaModel
		}
		client := NewOllamaClient(&OllamaClientConfig{
			Host:  host,
			Model: model,
		})
		return NewGateway(client, cfg), nil

	default:
		return nil, fmt.Errorf("llm: unknown provider %q (valid: openai, ollama, none)", provider)
	}
}
