package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/types"
)

const maxResponseBytes = 4 << 20

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Body       types.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Body.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Body.Error, e.StatusCode, e.Body.Message)
	}
	return fmt.Sprintf("%s (%d)", e.Body.Error, e.StatusCode)
}

// Code returns the server error code of err, or "" when err is not an
// *APIError.
func Code(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body.Error
	}
	return ""
}

// Client talks to the orchestrator REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CreateSession starts a session. An empty sessionID lets the server pick
// one; an empty text only reserves the id.
func (c *Client) CreateSession(ctx context.Context, sessionID, text string) (types.Reply, error) {
	var reply types.Reply
	err := c.do(ctx, http.MethodPost, "/v1/sessions", types.CreateSessionRequest{SessionID: sessionID, Text: text}, &reply)
	return reply, err
}

func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (types.Reply, error) {
	var reply types.Reply
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "messages"), types.MessageRequest{Text: text}, &reply)
	return reply, err
}

func (c *Client) ConfirmSelection(ctx context.Context, sessionID string, frameworks []string) (types.Reply, error) {
	var reply types.Reply
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "selection"), types.SelectionRequest{Frameworks: frameworks}, &reply)
	return reply, err
}

func (c *Client) Answer(ctx context.Context, sessionID, target, answer string) (types.Reply, error) {
	var reply types.Reply
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "answers"), types.AnswerRequest{TargetAgentName: target, Answer: answer}, &reply)
	return reply, err
}

func (c *Client) Session(ctx context.Context, sessionID string) (session.Session, error) {
	var s session.Session
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &s)
	return s, err
}

func (c *Client) NextQuestion(ctx context.Context, sessionID string) (types.NextQuestionResponse, error) {
	var resp types.NextQuestionResponse
	err := c.do(ctx, http.MethodGet, sessionPath(sessionID, "next-question"), nil, &resp)
	return resp, err
}

func (c *Client) Frameworks(ctx context.Context) ([]types.Framework, error) {
	var out []types.Framework
	err := c.do(ctx, http.MethodGet, "/v1/frameworks", nil, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	var out types.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func sessionPath(sessionID, suffix string) string {
	p := "/v1/sessions/" + url.PathEscape(sessionID)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, &apiErr.Body); jsonErr != nil || apiErr.Body.Error == "" {
			apiErr.Body = types.ErrorResponse{Error: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(raw))}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
