package session

import (
	"errors"
	"testing"
	"time"
)

func TestDerivePhase(t *testing.T) {
	answer := "yes"
	now := time.Now()
	base := New("s1", now)

	withQuery := base
	withQuery.Query = "q"

	ranked := withQuery
	ranked.RankedFrameworks = []RankedFramework{{WorkerID: "swot", Score: 1}}

	selected := ranked
	selected.SelectedFrameworks = []string{"swot", "pros_cons"}
	selected.QAState = map[string]WorkerQAState{
		"swot":      {Status: QAPending, CurrentIndex: NoQuestion},
		"pros_cons": {Status: QAPending, CurrentIndex: NoQuestion},
	}

	qa := selected.Clone()
	qa.QAState["swot"] = WorkerQAState{Status: QANeedInfo, Questions: []QAEntry{{Question: "why?"}}, CurrentIndex: 0}
	qa.QAState["pros_cons"] = WorkerQAState{Status: QAReady, CurrentIndex: NoQuestion}

	ready := qa.Clone()
	ready.QAState["swot"] = WorkerQAState{Status: QAReady, Questions: []QAEntry{{Question: "why?", Answer: &answer}}, CurrentIndex: NoQuestion}

	reported := ready.Clone()
	reported.AgentReports = map[string]Report{"swot": {}, "pros_cons": {}}

	done := reported.Clone()
	done.FinalRecommendation = "go"
	done.Status = StatusCompleted

	cases := []struct {
		name string
		s    Session
		want Phase
	}{
		{name: "empty", s: base, want: PhaseAwaitingQuery},
		{name: "query", s: withQuery, want: PhaseRanking},
		{name: "ranked", s: ranked, want: PhaseAwaitingSelection},
		{name: "selected", s: selected, want: PhasePass1Running},
		{name: "qa", s: qa, want: PhaseQAInProgress},
		{name: "ready", s: ready, want: PhasePass2Running},
		{name: "reported", s: reported, want: PhaseSynthesizing},
		{name: "done", s: done, want: PhaseCompleted},
	}
	for _, tc := range cases {
		if got := DerivePhase(tc.s); got != tc.want {
			t.Fatalf("%s: want %s got %s", tc.name, tc.want, got)
		}
		if err := CheckInvariants(tc.s); err != nil {
			t.Fatalf("%s: unexpected invariant error: %v", tc.name, err)
		}
	}
}

func TestResolvePhaseDetectsMismatch(t *testing.T) {
	s := New("s1", time.Now())
	s.Phase = PhaseSynthesizing
	derived, ok := ResolvePhase(s)
	if ok {
		t.Fatalf("expected mismatch to be reported")
	}
	if derived != PhaseAwaitingQuery {
		t.Fatalf("derived phase should win, got %s", derived)
	}
}

func TestCheckInvariantsRejectsReportsBeforeReadiness(t *testing.T) {
	s := New("s1", time.Now())
	s.Query = "q"
	s.SelectedFrameworks = []string{"swot"}
	s.QAState = map[string]WorkerQAState{
		"swot": {Status: QANeedInfo, Questions: []QAEntry{{Question: "?"}}, CurrentIndex: 0},
	}
	s.AgentReports = map[string]Report{"swot": {}}

	if err := CheckInvariants(s); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}

func TestCheckInvariantsRejectsReadyWithPendingQuestion(t *testing.T) {
	s := New("s1", time.Now())
	s.SelectedFrameworks = []string{"swot"}
	s.QAState = map[string]WorkerQAState{
		"swot": {Status: QAReady, Questions: []QAEntry{{Question: "?"}}, CurrentIndex: NoQuestion},
	}
	if err := CheckInvariants(s); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
}
