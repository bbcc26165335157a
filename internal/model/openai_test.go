package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompleteSendsSystemPromptAndJSONFormat(t *testing.T) {
	var seen openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&seen); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-4o-2024","choices":[{"message":{"role":"assistant","content":"{\"status\":\"READY\"}"}}]}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("sk-test", WithEndpoint(server.URL))
	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Model:        "gpt-4o",
		SystemPrompt: "You are a SWOT analyst.",
		Messages:     []Message{{Role: RoleUser, Content: "analyze"}},
		MaxTokens:    256,
		JSONOutput:   true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != `{"status":"READY"}` || resp.Model != "gpt-4o-2024" {
		t.Fatalf("unexpected response %#v", resp)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != RoleSystem {
		t.Fatalf("expected system message first, got %#v", seen.Messages)
	}
	if seen.ResponseFormat == nil || seen.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json response format")
	}
}

func TestOpenAICompleteRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit","message":"slow down"}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("sk-test", WithEndpoint(server.URL))
	_, err := provider.Complete(context.Background(), CompletionRequest{
		Model:     "gpt-4o",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 16,
	})
	if !IsRateLimited(err) || err.Error() != "openai rate limited: slow down" {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("sk-test", WithEndpoint(server.URL))
	if _, err := provider.Complete(context.Background(), CompletionRequest{
		Model:     "gpt-4o",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 16,
	}); err == nil {
		t.Fatalf("expected empty response error")
	}
}

func TestCheckRequest(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "x"}}
	tests := []struct {
		name string
		key  string
		req  CompletionRequest
	}{
		{"missing key", "", CompletionRequest{Model: "m", MaxTokens: 1, Messages: msgs}},
		{"missing model", "k", CompletionRequest{MaxTokens: 1, Messages: msgs}},
		{"missing tokens", "k", CompletionRequest{Model: "m", Messages: msgs}},
		{"missing messages", "k", CompletionRequest{Model: "m", MaxTokens: 1}},
	}
	for _, tt := range tests {
		if err := checkRequest(ProviderOpenAI, tt.key, tt.req); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
	if err := checkRequest(ProviderOpenAI, "k", CompletionRequest{Model: "m", MaxTokens: 1, Messages: msgs}); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
}

func TestProviderErrorMessageFallbacks(t *testing.T) {
	if got := providerErrorMessage(http.StatusBadGateway, nil); got != "Bad Gateway" {
		t.Fatalf("got %q", got)
	}
	if got := providerErrorMessage(http.StatusBadGateway, []byte("upstream down")); got != "upstream down" {
		t.Fatalf("got %q", got)
	}
}
