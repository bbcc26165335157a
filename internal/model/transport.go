package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultProviderTimeout = 120 * time.Second
	maxProviderResponse    = 1 << 20
)

// APIError is a non-2xx reply from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.RateLimited() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s api status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err carries a provider 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.RateLimited()
}

// Option configures where a provider sends requests.
type Option func(*transport)

func WithEndpoint(endpoint string) Option {
	return func(t *transport) {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			t.endpoint = trimmed
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(t *transport) {
		if client != nil {
			t.client = client
		}
	}
}

type transport struct {
	provider string
	endpoint string
	client   *http.Client
	headers  map[string]string
}

func newTransport(provider, endpoint string, headers map[string]string, opts []Option) transport {
	t := transport{
		provider: provider,
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultProviderTimeout},
		headers:  headers,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&t)
		}
	}
	return t
}

// post sends in as JSON and decodes a 2xx reply into out. Error bodies are
// reduced to the provider's {"error":{"message":...}} text when present.
func (t transport) post(ctx context.Context, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", t.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", t.provider, err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s api: %w", t.provider, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxProviderResponse)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(limited)
		return &APIError{Provider: t.provider, StatusCode: resp.StatusCode, Message: providerErrorMessage(resp.StatusCode, raw)}
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", t.provider, err)
	}
	return nil
}

func providerErrorMessage(status int, raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if msg := strings.TrimSpace(envelope.Error.Message); msg != "" {
			return msg
		}
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

func checkRequest(provider, apiKey string, req CompletionRequest) error {
	switch {
	case strings.TrimSpace(apiKey) == "":
		return fmt.Errorf("%s api key is required", provider)
	case strings.TrimSpace(req.Model) == "":
		return errors.New("model is required")
	case req.MaxTokens <= 0:
		return errors.New("max tokens must be greater than zero")
	case len(req.Messages) == 0:
		return errors.New("at least one message is required")
	}
	return nil
}
