package qa

import (
	"errors"
	"reflect"
	"testing"

	"foursight.local/orchestrator/internal/session"
)

var order = []string{"swot", "pros_cons", "cost_benefit", "five_whys"}

func scenarioState() map[string]session.WorkerQAState {
	return map[string]session.WorkerQAState{
		"swot":         NeedInfoState([]string{"Which markets?", "What budget?"}),
		"pros_cons":    ReadyState(),
		"cost_benefit": NeedInfoState([]string{"Expected payback period?"}),
		"five_whys":    ReadyState(),
	}
}

func TestQuestionOrderFollowsSelection(t *testing.T) {
	state := scenarioState()
	var asked []string
	var signals []string

	for {
		p, ok := NextQuestion(order, state)
		if !ok {
			break
		}
		asked = append(asked, p.WorkerID+"."+p.Question)
		out, err := RecordAnswer(order, state, p.WorkerID, "answer")
		if err != nil {
			t.Fatalf("record answer: %v", err)
		}
		switch {
		case out.AllReady:
			signals = append(signals, "ALL_READY")
		case out.WorkerReady:
			signals = append(signals, "READY:"+out.WorkerID)
		default:
			signals = append(signals, "NEXT")
		}
		state = out.State
	}

	wantAsked := []string{"swot.Which markets?", "swot.What budget?", "cost_benefit.Expected payback period?"}
	if !reflect.DeepEqual(asked, wantAsked) {
		t.Fatalf("unexpected question order: %v", asked)
	}
	wantSignals := []string{"NEXT", "READY:swot", "ALL_READY"}
	if !reflect.DeepEqual(signals, wantSignals) {
		t.Fatalf("unexpected signals: %v", signals)
	}
	if !AllReady(order, state) {
		t.Fatalf("expected all workers ready")
	}
	pairs := Collected(order, state)
	if len(pairs) != 3 || pairs[2].WorkerID != "cost_benefit" {
		t.Fatalf("unexpected collected pairs: %#v", pairs)
	}
}

func TestRecordAnswerRejectsNonActiveWorker(t *testing.T) {
	state := scenarioState()
	before := scenarioState()

	cases := []string{"cost_benefit", "pros_cons", "unknown_agent"}
	for _, target := range cases {
		_, err := RecordAnswer(order, state, target, "x")
		if !errors.Is(err, ErrUnexpectedAnswer) {
			t.Fatalf("%s: expected ErrUnexpectedAnswer, got %v", target, err)
		}
	}
	if !reflect.DeepEqual(state, before) {
		t.Fatalf("state was mutated by rejected answers")
	}
}

func TestRecordAnswerDoesNotMutateInput(t *testing.T) {
	state := scenarioState()
	out, err := RecordAnswer(order, state, "swot", "EU")
	if err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if state["swot"].CurrentIndex != 0 || state["swot"].Questions[0].Answer != nil {
		t.Fatalf("input state mutated: %#v", state["swot"])
	}
	if out.State["swot"].CurrentIndex != 1 || out.Next == nil || out.Next.Question != "What budget?" {
		t.Fatalf("unexpected outcome: %#v", out)
	}
}

func TestRecordAnswerRejectsBlankAnswer(t *testing.T) {
	if _, err := RecordAnswer(order, scenarioState(), "swot", "   "); !errors.Is(err, ErrUnexpectedAnswer) {
		t.Fatalf("expected ErrUnexpectedAnswer, got %v", err)
	}
}

func TestFailedStateDoesNotBlockReadiness(t *testing.T) {
	state := map[string]session.WorkerQAState{
		"swot":      FailedState(errors.New("timeout")),
		"pros_cons": ReadyState(),
	}
	if !AllReady([]string{"swot", "pros_cons"}, state) {
		t.Fatalf("failed sufficiency check should not block readiness")
	}
	if state["swot"].Error == "" {
		t.Fatalf("expected error annotation")
	}
	if _, ok := NextQuestion([]string{"swot", "pros_cons"}, state); ok {
		t.Fatalf("expected no question")
	}
}

func TestAllReadyRequiresEveryWorker(t *testing.T) {
	state := map[string]session.WorkerQAState{"swot": ReadyState()}
	if AllReady([]string{"swot", "pros_cons"}, state) {
		t.Fatalf("missing worker must not count as ready")
	}
	if AllReady(nil, state) {
		t.Fatalf("empty selection is never ready")
	}
}
