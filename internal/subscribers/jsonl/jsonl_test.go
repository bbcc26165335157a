package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"foursight.local/orchestrator/internal/types"
)

func TestSubscriberAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Handle(context.Background(), types.WorkflowEvent{EventID: "evt", SessionID: "s1", EventType: types.EventTypeAnswerRecorded}); err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event types.WorkflowEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not an event: %v", lines, err)
		}
		if event.EventType != types.EventTypeAnswerRecorded {
			t.Fatalf("unexpected event type %q", event.EventType)
		}
		lines++
	}
	if lines != 20 {
		t.Fatalf("expected 20 lines, got %d", lines)
	}
}

func TestSubscriberClosed(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()
	if err := s.Handle(context.Background(), types.WorkflowEvent{}); err == nil {
		t.Fatalf("expected error after close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
