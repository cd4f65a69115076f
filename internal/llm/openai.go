package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OpenAIClient implements Generator against the OpenAI chat completions API
// or any OpenAI-compatible endpoint (OpenRouter, vLLM, LM Studio).
// Safe for concurrent use.
type OpenAIClient struct {
	// baseURL is the API base (e.g. "https://api.openai.com/v1").
	baseURL string
	// apiKey is the Bearer token.
	apiKey string
	// model is the default chat model name.
	model string
	// client is the shared HTTP client. Its timeout bounds a single
	// attempt; the overall call deadline belongs to the Gateway.
	client *http.Client
}

// OpenAIClientConfig holds the settings for constructing an OpenAIClient.
type OpenAIClientConfig struct {
	// BaseURL is the API base URL. Defaults to "https://api.openai.com/v1".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the default chat model (e.g. "gpt-4o-mini").
	Model string
	// Timeout bounds a single HTTP attempt. Defaults to 60s.
	Timeout time.Duration
}

// NewOpenAIClient constructs an OpenAIClient from the given config.
func NewOpenAIClient(cfg *OpenAIClientConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// chatRequest is the JSON body sent to the chat completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage is one turn in the chat completions request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the JSON body returned from the chat completions endpoint.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate produces a completion for prompt via a single API call.
// Network-level failures are marked transient; non-2xx statuses are
// classified by code.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	model := p.Model
	if model == "" {
		model = c.model
	}

	body := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("openai llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openai llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection failures and per-attempt timeouts are retryable.
		return "", Transient(fmt.Errorf("openai llm: request failed: %w", err))
	}
	defer resp.Body.Close()

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", Transient(fmt.Errorf("openai llm: decode response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "no error detail"
		if result.Error != nil {
			msg = result.Error.Message
		}
		return "", fmt.Errorf("openai llm: %w", classifyStatus(resp.StatusCode, msg))
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai llm: response contained no choices")
	}

	return result.Choices[0].Message.Content, nil
}
