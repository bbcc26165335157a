package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Endpoint is a remote worker reachable at BaseURL + "/run".
type Endpoint struct {
	WorkerID string
	BaseURL  string
}

type HTTPClient struct {
	endpoints  map[string]string
	httpClient *http.Client
	logger     *log.Logger
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewHTTPClient builds a client for the given endpoints. Per-call deadlines
// come from the caller's context; the http.Client timeout is only a backstop.
func NewHTTPClient(logger *log.Logger, endpoints []Endpoint, opts ...HTTPOption) *HTTPClient {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &HTTPClient{
		endpoints: normalizeEndpoints(endpoints),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Handles(workerID string) bool {
	_, ok := c.endpoints[NormalizeID(workerID)]
	return ok
}

func (c *HTTPClient) WorkerIDs() []string {
	ids := make([]string, 0, len(c.endpoints))
	for id := range c.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *HTTPClient) Call(ctx context.Context, workerID string, payload Payload) (Result, error) {
	id := NormalizeID(workerID)
	baseURL, ok := c.endpoints[id]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal worker payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build worker request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, classifyTransportError(id, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, classifyTransportError(id, err)
	}
	if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
		return Result{}, fmt.Errorf("%w: worker %s status %d", ErrTimeout, id, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		if len(message) > 256 {
			message = message[:256]
		}
		return Result{}, fmt.Errorf("%w: worker %s status %d: %s", ErrUnreachable, id, resp.StatusCode, message)
	}

	result, err := ParseResult(payload.Mode, raw)
	if err != nil {
		return Result{}, fmt.Errorf("worker %s: %w", id, err)
	}
	return result, nil
}

// Probe checks each endpoint's /health route and logs the unreachable ones.
// It returns the ids that answered.
func (c *HTTPClient) Probe(ctx context.Context) []string {
	var healthy []string
	for _, id := range c.WorkerIDs() {
		if err := ctx.Err(); err != nil {
			break
		}
		healthURL := c.endpoints[id] + "/health"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			c.logger.Printf("worker probe warning worker=%s err=%v", id, err)
			continue
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Printf("worker probe warning worker=%s url=%s err=%v", id, healthURL, err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Printf("worker probe warning worker=%s status=%d", id, resp.StatusCode)
			continue
		}
		healthy = append(healthy, id)
	}
	return healthy
}

func classifyTransportError(workerID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: worker %s: %v", ErrTimeout, workerID, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: worker %s: %v", ErrTimeout, workerID, err)
	}
	return fmt.Errorf("%w: worker %s: %v", ErrUnreachable, workerID, err)
}

func normalizeEndpoints(endpoints []Endpoint) map[string]string {
	out := make(map[string]string, len(endpoints))
	for _, ep := range endpoints {
		id := NormalizeID(ep.WorkerID)
		baseURL := strings.TrimSuffix(strings.TrimSpace(ep.BaseURL), "/")
		if id == "" || baseURL == "" {
			continue
		}
		out[id] = baseURL
	}
	return out
}
