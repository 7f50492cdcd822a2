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

const openAIBackend = "openai"

type openAIAdapter struct {
	apiKey       string
	baseURL      string
	systemPrompt string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
}

func newOpenAIAdapter(cfg config.Config, httpClient *http.Client) openAIAdapter {
	return openAIAdapter{
		apiKey:       strings.TrimSpace(cfg.OpenAIAPIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/"),
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		httpClient:   httpClient,
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a openAIAdapter) send(ctx context.Context, messages []Message, model string) (string, error) {
	if a.apiKey == "" {
		return "", &AuthError{Backend: openAIBackend}
	}

	// The steering directive rides as a leading system message on this shape.
	prompt := make([]Message, 0, len(messages)+1)
	if a.systemPrompt != "" {
		prompt = append(prompt, Message{Role: roleSystem, Content: a.systemPrompt})
	}
	prompt = append(prompt, messages...)

	payload, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    prompt,
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal openai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Backend: openAIBackend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", upstreamError(openAIBackend, resp)
	}

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}
