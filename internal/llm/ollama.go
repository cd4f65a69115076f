package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OllamaClient implements Generator using the Ollama /api/generate endpoint.
// Safe for concurrent use. No API key required since Ollama runs locally.
type OllamaClient struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the default model name (e.g. "llama3.1").
	model string
	// client is the shared HTTP client bounding a single attempt.
	client *http.Client
}

// OllamaClientConfig holds the settings for constructing an OllamaClient.
type OllamaClientConfig struct {
	// Host is the Ollama server base URL.
	Host string
	// Model is the default model name.
	Model string
	// Timeout bounds a single HTTP attempt. Defaults to 120s since local
	// generation on CPU can be slow.
	Timeout time.Duration
}

// NewOllamaClient constructs an OllamaClient from the given config.
func NewOllamaClient(cfg *OllamaClientConfig) *OllamaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		host:   cfg.Host,
		model:  cfg.Model,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// ollamaGenerateRequest is the JSON body sent to /api/generate.
type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// ollamaGenerateResponse is the JSON body returned from /api/generate.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate produces a completion for prompt via a single non-streaming call.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	model := p.Model
	if model == "" {
		model = c.model
	}

	opts := map[string]any{"temperature": p.Temperature}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}

	body := ollamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("ollama llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("ollama llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("ollama llm: request failed: %w", err))
	}
	defer resp.Body.Close()

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", Transient(fmt.Errorf("ollama llm: decode response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "no error detail"
		if result.Error != "" {
			msg = result.Error
		}
		return "", fmt.Errorf("ollama llm: %w", classifyStatus(resp.StatusCode, msg))
	}

	return result.Response, nil
}
