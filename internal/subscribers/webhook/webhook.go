// Package webhook delivers workflow events to an HTTP endpoint, optionally
// signed so the receiver can check they came from this server.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"foursight.local/orchestrator/internal/subscribers"
	"foursight.local/orchestrator/internal/types"
)

const (
	defaultTimeout  = 10 * time.Second
	maxErrorExcerpt = 512

	HeaderEventType = "X-Foursight-Event"
	HeaderSessionID = "X-Foursight-Session"
	HeaderTimestamp = "X-Foursight-Timestamp"
	// HeaderSignature is "sha256=" + hex(HMAC-SHA256(secret, timestamp + "." + body)).
	HeaderSignature = "X-Foursight-Signature"
)

type Option func(*Subscriber)

type Subscriber struct {
	name   string
	url    string
	secret []byte
	client *http.Client
	logger *log.Logger
	accept func(types.EventType) bool
	now    func() time.Time
}

var _ subscribers.Subscriber = (*Subscriber)(nil)

func New(name, url string, logger *log.Logger, opts ...Option) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Subscriber{
		name:   strings.TrimSpace(name),
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: defaultTimeout},
		logger: logger,
		now:    time.Now,
	}
	if s.name == "" {
		s.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.client = client
		}
	}
}

// WithSecret signs every delivery. An empty secret leaves deliveries unsigned.
func WithSecret(secret string) Option {
	return func(s *Subscriber) {
		if secret = strings.TrimSpace(secret); secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithEventTypes limits deliveries to the listed event types.
func WithEventTypes(eventTypes ...types.EventType) Option {
	allowed := make(map[types.EventType]bool, len(eventTypes))
	for _, et := range eventTypes {
		allowed[et] = true
	}
	return func(s *Subscriber) {
		if len(allowed) > 0 {
			s.accept = func(et types.EventType) bool { return allowed[et] }
		}
	}
}

func (s *Subscriber) Name() string {
	return s.name
}

// Handle posts the event. 4xx replies other than 408 and 429 are returned as
// permanent failures; everything else may be retried.
func (s *Subscriber) Handle(ctx context.Context, event types.WorkflowEvent) error {
	if s.accept != nil && !s.accept(event.EventType) {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return subscribers.Permanent(fmt.Errorf("marshal event: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return subscribers.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, string(event.EventType))
	req.Header.Set(HeaderSessionID, event.SessionID)
	if len(s.secret) > 0 {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		req.Header.Set(HeaderTimestamp, ts)
		req.Header.Set(HeaderSignature, Sign(s.secret, ts, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
	err = fmt.Errorf("webhook status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	if retryable(resp.StatusCode) {
		return err
	}
	s.logger.Printf("webhook rejected delivery subscriber=%s event_type=%s status=%d", s.name, event.EventType, resp.StatusCode)
	return subscribers.Permanent(err)
}

func retryable(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 400 && status < 500:
		return false
	default:
		return true
	}
}

// Sign computes the HeaderSignature value for a delivery.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
