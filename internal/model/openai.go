package model

import (
	"context"
	"errors"
	"strings"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider talks to the chat completions API, using its json_object
// response format for JSONOutput.
type OpenAIProvider struct {
	apiKey string
	t      transport
}

func NewOpenAIProvider(apiKey string, opts ...Option) *OpenAIProvider {
	apiKey = strings.TrimSpace(apiKey)
	return &OpenAIProvider{
		apiKey: apiKey,
		t: newTransport(ProviderOpenAI, defaultOpenAIEndpoint, map[string]string{
			"Authorization": "Bearer " + apiKey,
		}, opts),
	}
}

var _ Provider = (*OpenAIProvider)(nil)

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := checkRequest(ProviderOpenAI, p.apiKey, req); err != nil {
		return CompletionResponse{}, err
	}

	payload := openAIRequest{
		Model:       req.Model,
		Messages:    make([]Message, 0, len(req.Messages)+1),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		payload.Messages = append(payload.Messages, Message{Role: RoleSystem, Content: system})
	}
	payload.Messages = append(payload.Messages, req.Messages...)
	if req.JSONOutput {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var parsed openAIResponse
	if err := p.t.post(ctx, payload, &parsed); err != nil {
		return CompletionResponse{}, err
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return CompletionResponse{}, errors.New("openai response contained no content")
	}
	return CompletionResponse{Content: parsed.Choices[0].Message.Content, Model: firstNonEmpty(parsed.Model, req.Model)}, nil
}
