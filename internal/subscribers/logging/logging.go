package logging

import (
	"context"
	"fmt"
	"io"
	"log"

	"foursight.local/orchestrator/internal/types"
)

type Subscriber struct {
	logger  *log.Logger
	verbose bool
}

type Option func(*Subscriber)

// WithPayloads includes the raw event payload in each log line.
func WithPayloads() Option {
	return func(s *Subscriber) {
		s.verbose = true
	}
}

func New(logger *log.Logger, opts ...Option) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Subscriber{logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event types.WorkflowEvent) error {
	line := fmt.Sprintf("subscriber=logging event_id=%s session_id=%s event_type=%s phase=%s", event.EventID, event.SessionID, event.EventType, event.Phase)
	if s.verbose && len(event.Payload) > 0 {
		line += fmt.Sprintf(" payload=%s", event.Payload)
	}
	s.logger.Print(line)
	return nil
}
