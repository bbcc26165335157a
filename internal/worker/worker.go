package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownWorker     = errors.New("unknown worker")
	ErrUnreachable       = errors.New("worker unreachable")
	ErrTimeout           = errors.New("worker timeout")
	ErrMalformedResponse = errors.New("malformed worker response")
)

type Mode string

const (
	ModeSufficiency Mode = "sufficiency"
	ModeFinal       Mode = "final"
)

type SufficiencyStatus string

const (
	StatusReady    SufficiencyStatus = "READY"
	StatusNeedInfo SufficiencyStatus = "NEED_INFO"
)

// Payload is the request body sent to a worker.
type Payload struct {
	Mode      Mode     `json:"mode"`
	Query     string   `json:"query"`
	QAContext []QAPair `json:"qa_context,omitempty"`
}

type QAPair struct {
	WorkerID string `json:"worker_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type SufficiencyResult struct {
	Status    SufficiencyStatus `json:"status"`
	Questions []string          `json:"questions"`
}

// FinalReport is a worker's free-form analysis plus the caveat every final
// answer carries, which may be null.
type FinalReport struct {
	Fields map[string]any
	Caveat *string
}

func (r FinalReport) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["caveat"] = r.Caveat
	return json.Marshal(out)
}

// Result holds exactly one of Sufficiency or Final, matching the call mode.
type Result struct {
	Mode        Mode
	Sufficiency *SufficiencyResult
	Final       *FinalReport
}

type Client interface {
	Call(ctx context.Context, workerID string, payload Payload) (Result, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, workerID string, payload Payload) (Result, error)

func (f ClientFunc) Call(ctx context.Context, workerID string, payload Payload) (Result, error) {
	return f(ctx, workerID, payload)
}

// ErrorKind names the failure class of err for reports and events.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrUnknownWorker):
		return "unknown_worker"
	default:
		return "error"
	}
}

// FailureCaveat is the caveat attached to a report for a worker that failed.
func FailureCaveat(workerID string, err error) string {
	switch ErrorKind(err) {
	case "timeout":
		return fmt.Sprintf("The %s analysis timed out and is not included.", workerID)
	case "unreachable":
		return fmt.Sprintf("The %s analysis could not be reached and is not included.", workerID)
	case "malformed_response":
		return fmt.Sprintf("The %s analysis returned an unreadable report and is not included.", workerID)
	default:
		return fmt.Sprintf("The %s analysis failed and is not included.", workerID)
	}
}
