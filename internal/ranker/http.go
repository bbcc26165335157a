package ranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/worker"
)

// HTTPRanker asks a remote ranking service to score the catalog.
//
// Request:  POST <url> {"query": "...", "frameworks": [{"worker_id", "description"}]}
// Response: {"frameworks": [{"worker_id": "...", "score": 0.9}]}
type HTTPRanker struct {
	url        string
	httpClient *http.Client
	catalog    *worker.Catalog
}

type HTTPOption func(*HTTPRanker)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRanker) {
		if client != nil {
			r.httpClient = client
		}
	}
}

func NewHTTPRanker(url string, catalog *worker.Catalog, opts ...HTTPOption) *HTTPRanker {
	r := &HTTPRanker{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		catalog:    catalog,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

type rankRequest struct {
	Query      string             `json:"query"`
	Frameworks []rankRequestEntry `json:"frameworks"`
}

type rankRequestEntry struct {
	WorkerID    string `json:"worker_id"`
	Description string `json:"description"`
}

type rankResponse struct {
	Frameworks []session.RankedFramework `json:"frameworks"`
}

var _ Ranker = (*HTTPRanker)(nil)

func (r *HTTPRanker) Rank(ctx context.Context, query string) ([]session.RankedFramework, error) {
	req := rankRequest{Query: query}
	for _, f := range r.catalog.All() {
		req.Frameworks = append(req.Frameworks, rankRequestEntry{WorkerID: f.ID, Description: f.Description})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := strings.TrimSpace(string(raw))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: ranker status %d: %s", ErrUnavailable, resp.StatusCode, message)
	}

	var parsed rankResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode ranker response: %v", ErrUnavailable, err)
	}
	ranked := Normalize(parsed.Frameworks, r.catalog)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: ranker returned no known frameworks", ErrUnavailable)
	}
	return ranked, nil
}
