package session

import (
	"errors"
	"fmt"
)

type Phase string

const (
	PhaseAwaitingQuery     Phase = "awaiting_query"
	PhaseRanking           Phase = "ranking"
	PhaseAwaitingSelection Phase = "awaiting_selection"
	PhasePass1Running      Phase = "pass1_running"
	PhaseQAInProgress      Phase = "qa_in_progress"
	PhasePass2Running      Phase = "pass2_running"
	PhaseSynthesizing      Phase = "synthesizing"
	PhaseCompleted         Phase = "completed"
)

var ErrInvariant = errors.New("session invariant violated")

// DerivePhase computes the workflow phase from the persisted fields alone.
func DerivePhase(s Session) Phase {
	switch {
	case s.Status == StatusCompleted || s.FinalRecommendation != "":
		return PhaseCompleted
	case s.Query == "":
		return PhaseAwaitingQuery
	case len(s.SelectedFrameworks) == 0 && len(s.RankedFrameworks) == 0:
		return PhaseRanking
	case len(s.SelectedFrameworks) == 0:
		return PhaseAwaitingSelection
	case len(s.AgentReports) > 0:
		return PhaseSynthesizing
	}

	outstanding := false
	for _, id := range s.SelectedFrameworks {
		st, ok := s.QAState[id]
		if !ok || st.Status == QAPending {
			return PhasePass1Running
		}
		if st.Status == QANeedInfo && st.CurrentIndex >= 0 && st.CurrentIndex < len(st.Questions) {
			outstanding = true
		}
	}
	if outstanding {
		return PhaseQAInProgress
	}
	return PhasePass2Running
}

// ResolvePhase returns the derived phase and whether the stored phase agrees
// with it. An empty stored phase always agrees.
func ResolvePhase(s Session) (Phase, bool) {
	derived := DerivePhase(s)
	if s.Phase == "" {
		return derived, true
	}
	return derived, s.Phase == derived
}

// CheckInvariants validates the structural rules of the session document.
func CheckInvariants(s Session) error {
	if len(s.SelectedFrameworks) > 10 {
		return fmt.Errorf("%w: %d selected frameworks", ErrInvariant, len(s.SelectedFrameworks))
	}
	selected := make(map[string]struct{}, len(s.SelectedFrameworks))
	for _, id := range s.SelectedFrameworks {
		if _, dup := selected[id]; dup {
			return fmt.Errorf("%w: duplicate selection %q", ErrInvariant, id)
		}
		selected[id] = struct{}{}
	}
	for id, st := range s.QAState {
		if _, ok := selected[id]; !ok {
			return fmt.Errorf("%w: qa_state for unselected worker %q", ErrInvariant, id)
		}
		if err := checkQAState(st); err != nil {
			return fmt.Errorf("%w: worker %q: %v", ErrInvariant, id, err)
		}
	}
	for id := range s.AgentReports {
		if _, ok := selected[id]; !ok {
			return fmt.Errorf("%w: report for unselected worker %q", ErrInvariant, id)
		}
	}
	if len(s.AgentReports) > 0 {
		for _, id := range s.SelectedFrameworks {
			if s.QAState[id].Status != QAReady {
				return fmt.Errorf("%w: reports present while %q is not ready", ErrInvariant, id)
			}
		}
	}
	if s.Status == StatusCompleted && s.FinalRecommendation == "" {
		return fmt.Errorf("%w: completed without recommendation", ErrInvariant)
	}
	return nil
}

func checkQAState(st WorkerQAState) error {
	if len(st.Questions) > 3 {
		return fmt.Errorf("%d questions", len(st.Questions))
	}
	switch st.Status {
	case QAPending:
		return nil
	case QANeedInfo:
		if st.CurrentIndex < 0 || st.CurrentIndex >= len(st.Questions) {
			return fmt.Errorf("need_info with index %d of %d", st.CurrentIndex, len(st.Questions))
		}
		for i := 0; i < st.CurrentIndex; i++ {
			if !st.Questions[i].Answered() {
				return fmt.Errorf("question %d unanswered before current index", i)
			}
		}
		return nil
	case QAReady:
		if st.CurrentIndex != NoQuestion {
			return fmt.Errorf("ready with index %d", st.CurrentIndex)
		}
		for i, q := range st.Questions {
			if !q.Answered() {
				return fmt.Errorf("ready with unanswered question %d", i)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown status %q", st.Status)
	}
}
