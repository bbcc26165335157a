package model

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

type CompletionRequest struct {
	Model        string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
	SystemPrompt string
	// JSONOutput asks the provider to constrain the reply to a JSON object
	// when it supports doing so.
	JSONOutput bool
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type CompletionResponse struct {
	Content string
	// Model is the model that answered, as reported by the provider.
	Model string
}

// Ref names a model as provider/model, e.g. anthropic/claude-sonnet-4-20250514.
type Ref struct {
	Provider string
	Model    string
}

func (r Ref) String() string {
	return r.Provider + "/" + r.Model
}

func ParseRef(raw string) (Ref, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Ref{}, fmt.Errorf("model reference is required")
	}
	providerName, modelName, ok := strings.Cut(value, "/")
	providerName = normalizeProviderName(providerName)
	modelName = strings.TrimSpace(modelName)
	if !ok || providerName == "" || modelName == "" {
		return Ref{}, fmt.Errorf("model reference %q must use provider/model format", raw)
	}
	return Ref{Provider: providerName, Model: modelName}, nil
}
