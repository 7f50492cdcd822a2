package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"hierophant/backend/internal/config"
)

func TestAnthropicAdapterBuildsMessagesRequest(t *testing.T) {
	t.Parallel()

	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Fatalf("unexpected api key header: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != "2023-06-01" {
			t.Fatalf("unexpected version header: %q", got)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Greetings"}]}`))
	}))
	defer server.Close()

	adapter := newAnthropicAdapter(config.Config{
		AnthropicAPIKey:  "test-key",
		AnthropicBaseURL: server.URL,
		AnthropicVersion: "2023-06-01",
		SystemPrompt:     "Answer plainly.",
		MaxTokens:        1000,
		Temperature:      0.2,
	}, server.Client())

	history := []Message{
		{Role: RoleUser, Content: "Hello"},
		{Role: RoleAssistant, Content: "Hi"},
		{Role: RoleUser, Content: "Tell me more"},
	}
	reply, err := adapter.send(context.Background(), history, "claude-3-5-sonnet-20241022")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "Greetings" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if captured.Model != "claude-3-5-sonnet-20241022" {
		t.Fatalf("unexpected model: %q", captured.Model)
	}
	if captured.System != "Answer plainly." {
		t.Fatalf("unexpected system field: %q", captured.System)
	}
	if captured.MaxTokens != 1000 {
		t.Fatalf("unexpected max_tokens: %d", captured.MaxTokens)
	}
	if len(captured.Messages) != 3 {
		t.Fatalf("expected 3 messages in original order, got %+v", captured.Messages)
	}
	for i, want := range history {
		if captured.Messages[i] != want {
			t.Fatalf("message %d reordered or altered: got %+v want %+v", i, captured.Messages[i], want)
		}
	}
}

func TestAnthropicAdapterClassifiesUpstreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid_api_key"}}`))
	}))
	defer server.Close()

	adapter := newAnthropicAdapter(config.Config{
		AnthropicAPIKey:  "test-key",
		AnthropicBaseURL: server.URL,
	}, server.Client())

	_, err := adapter.send(context.Background(), []Message{{Role: RoleUser, Content: "Hello"}}, "claude-3-5-haiku-20241022")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Detail != "invalid_api_key" {
		t.Fatalf("unexpected detail: %q", upstream.Detail)
	}
}

func TestAnthropicAdapterNormalizesEmptyContentToEmptyString(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	adapter := newAnthropicAdapter(config.Config{
		AnthropicAPIKey:  "test-key",
		AnthropicBaseURL: server.URL,
	}, server.Client())

	reply, err := adapter.send(context.Background(), []Message{{Role: RoleUser, Content: "Hello"}}, "claude-3-5-haiku-20241022")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "" {
		t.Fatalf("expected empty reply, got %q", reply)
	}
}

func TestAnthropicAdapterRequiresAPIKeyBeforeDispatch(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls++
	}))
	defer server.Close()

	adapter := newAnthropicAdapter(config.Config{
		AnthropicBaseURL: server.URL,
	}, server.Client())

	_, err := adapter.send(context.Background(), []Message{{Role: RoleUser, Content: "Hello"}}, "claude-3-5-haiku-20241022")

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no upstream call, got %d", calls)
	}
}
