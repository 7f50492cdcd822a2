package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"hierophant/backend/internal/config"
)

const anthropicBackend = "anthropic"

type anthropicAdapter struct {
	apiKey       string
	baseURL      string
	version      string
	systemPrompt string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
}

func newAnthropicAdapter(cfg config.Config, httpClient *http.Client) anthropicAdapter {
	return anthropicAdapter{
		apiKey:       strings.TrimSpace(cfg.AnthropicAPIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.AnthropicBaseURL), "/"),
		version:      strings.TrimSpace(cfg.AnthropicVersion),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		httpClient:   httpClient,
	}
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (a anthropicAdapter) send(ctx context.Context, messages []Message, model string) (string, error) {
	if a.apiKey == "" {
		return "", &AuthError{Backend: anthropicBackend}
	}

	// The steering directive goes in the dedicated system field on this shape.
	payload, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
		System:      a.systemPrompt,
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", a.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Backend: anthropicBackend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", upstreamError(anthropicBackend, resp)
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", nil
	}
	return parsed.Content[0].Text, nil
}
