package types

import (
	"encoding/json"
	"time"
)

const EventVersionV1 = "v1"

type EventType string

const (
	EventTypeSessionCreated      EventType = "session.created"
	EventTypeRankingCompleted    EventType = "ranking.completed"
	EventTypeRankingDegraded     EventType = "ranking.degraded"
	EventTypeSelectionConfirmed  EventType = "selection.confirmed"
	EventTypePass1Completed      EventType = "pass1.completed"
	EventTypeQuestionAsked       EventType = "qa.question_asked"
	EventTypeAnswerRecorded      EventType = "qa.answer_recorded"
	EventTypeAllWorkersReady     EventType = "qa.all_ready"
	EventTypePass2Completed      EventType = "pass2.completed"
	EventTypeSynthesisCompleted  EventType = "synthesis.completed"
	EventTypeSynthesisFailed     EventType = "synthesis.failed"
	EventTypeStoreDegraded       EventType = "store.degraded"
	EventTypeWorkerCallCompleted EventType = "worker.call_completed"
)

// WorkflowEvent is published for every phase transition of a session.
type WorkflowEvent struct {
	Version    string          `json:"version"`
	EventID    string          `json:"event_id"`
	SessionID  string          `json:"session_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	EventType  EventType       `json:"event_type"`
	Phase      string          `json:"phase"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (e WorkflowEvent) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type RankingPayload struct {
	Frameworks []string `json:"frameworks"`
	Degraded   bool     `json:"degraded,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type SelectionPayload struct {
	Selected []string `json:"selected"`
}

type Pass1Payload struct {
	Ready    []string `json:"ready"`
	NeedInfo []string `json:"need_info"`
	Failed   []string `json:"failed,omitempty"`
}

type QuestionPayload struct {
	WorkerID string `json:"worker_id"`
	Index    int    `json:"index"`
	Question string `json:"question"`
}

type WorkerCallPayload struct {
	WorkerID   string `json:"worker_id"`
	Mode       string `json:"mode"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type Pass2Payload struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed,omitempty"`
}

type SynthesisPayload struct {
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type StoreDegradedPayload struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}
