// Package provider normalizes the heterogeneous LLM backend protocols into a
// single send-messages-get-text contract with classified failures.
package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"hierophant/backend/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	roleSystem    = "system"
)

// Message is the only shape forwarded upstream. Callers strip identifiers,
// timestamps and conversation references before handing history to the
// gateway.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type adapter interface {
	send(ctx context.Context, messages []Message, model string) (string, error)
}

type route struct {
	prefix  string
	backend adapter
}

// Gateway routes a model identifier to one backend adapter by prefix match,
// evaluated in fixed order. It performs no retries; failure classification is
// left to the caller's error-handling policy.
type Gateway struct {
	routes []route
}

func NewGateway(cfg config.Config, httpClient *http.Client) Gateway {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Gateway{
		routes: []route{
			{prefix: "gpt", backend: newOpenAIAdapter(cfg, httpClient)},
			{prefix: "claude", backend: newAnthropicAdapter(cfg, httpClient)},
		},
	}
}

func (g Gateway) Send(ctx context.Context, messages []Message, modelID string) (string, error) {
	model := strings.TrimSpace(modelID)
	for _, r := range g.routes {
		if strings.HasPrefix(model, r.prefix) {
			return r.backend.send(ctx, messages, model)
		}
	}
	return "", ErrUnsupportedModel
}

// upstreamError reads a failed response and extracts the error.message both
// backends expose, falling back to a generic description.
func upstreamError(backend string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	detail := ""
	if err := json.Unmarshal(body, &parsed); err == nil {
		detail = strings.TrimSpace(parsed.Error.Message)
	}
	if detail == "" {
		detail = backend + " API error"
	}

	return &UpstreamError{Backend: backend, Status: resp.StatusCode, Detail: detail}
}
