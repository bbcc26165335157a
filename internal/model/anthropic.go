package model

import (
	"context"
	"errors"
	"strings"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
	jsonOnlyInstruction      = "Respond with a single JSON object and nothing else."
)

// AnthropicProvider talks to the Messages API. It has no JSON mode, so
// JSONOutput is expressed as a system instruction.
type AnthropicProvider struct {
	apiKey string
	t      transport
}

func NewAnthropicProvider(apiKey string, opts ...Option) *AnthropicProvider {
	apiKey = strings.TrimSpace(apiKey)
	return &AnthropicProvider{
		apiKey: apiKey,
		t: newTransport(ProviderAnthropic, defaultAnthropicEndpoint, map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": anthropicVersion,
		}, opts),
	}
}

var _ Provider = (*AnthropicProvider)(nil)

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := checkRequest(ProviderAnthropic, p.apiKey, req); err != nil {
		return CompletionResponse{}, err
	}

	system := []string{req.SystemPrompt}
	payload := anthropicRequest{Model: req.Model, MaxTokens: req.MaxTokens}
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		payload.Messages = append(payload.Messages, msg)
	}
	if len(payload.Messages) == 0 {
		return CompletionResponse{}, errors.New("at least one non-system message is required")
	}
	if req.JSONOutput {
		system = append(system, jsonOnlyInstruction)
	}
	payload.System = joinNonEmpty(system, "\n\n")
	if req.Temperature > 0 {
		temperature := req.Temperature
		payload.Temperature = &temperature
	}

	var parsed anthropicResponse
	if err := p.t.post(ctx, payload, &parsed); err != nil {
		return CompletionResponse{}, err
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return CompletionResponse{}, errors.New("anthropic response contained no text")
	}
	return CompletionResponse{Content: text.String(), Model: firstNonEmpty(parsed.Model, req.Model)}, nil
}

func joinNonEmpty(parts []string, sep string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
