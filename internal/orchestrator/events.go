package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"foursight.local/orchestrator/internal/dispatch"
	"foursight.local/orchestrator/internal/ids"
	"foursight.local/orchestrator/internal/invoke"
	"foursight.local/orchestrator/internal/qa"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/types"
	"foursight.local/orchestrator/internal/worker"
)

func (c *Controller) emit(ctx context.Context, s session.Session, eventType types.EventType, payload any) {
	if c.dispatcher == nil {
		return
	}
	c.dispatcher.Dispatch(ctx, newEvent(s.SessionID, string(s.Phase), eventType, payload, c.now()))
}

func (c *Controller) emitQuestion(ctx context.Context, s session.Session, p qa.Prompt) {
	c.emit(ctx, s, types.EventTypeQuestionAsked, types.QuestionPayload{WorkerID: p.WorkerID, Index: p.Index, Question: p.Question})
}

// emitCalls publishes one event per worker call, in selection order.
func (c *Controller) emitCalls(ctx context.Context, s session.Session, outcomes map[string]invoke.Outcome, mode worker.Mode) {
	for _, id := range s.SelectedFrameworks {
		out, ok := outcomes[id]
		if !ok {
			continue
		}
		payload := types.WorkerCallPayload{WorkerID: id, Mode: string(mode), DurationMS: out.Duration.Milliseconds()}
		if out.Err != nil {
			payload.Error = out.Err.Error()
		}
		c.emit(ctx, s, types.EventTypeWorkerCallCompleted, payload)
	}
}

func newEvent(sessionID, phase string, eventType types.EventType, payload any, at time.Time) types.WorkflowEvent {
	event := types.WorkflowEvent{
		Version:    types.EventVersionV1,
		EventID:    ids.New(),
		SessionID:  sessionID,
		OccurredAt: at,
		EventType:  eventType,
		Phase:      phase,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			event.Payload = data
		}
	}
	return event
}

// DegradedHook publishes store.degraded events for a MirrorStore.
func DegradedHook(d *dispatch.Dispatcher) func(sessionID, op string, err error) {
	return func(sessionID, op string, err error) {
		d.Dispatch(context.Background(), newEvent(sessionID, "", types.EventTypeStoreDegraded, types.StoreDegradedPayload{
			Operation: op,
			Error:     err.Error(),
		}, time.Now().UTC()))
	}
}
