// Package qa tracks which worker is owed an answer and advances the
// question cursor as answers arrive. All functions are pure: they never
// mutate the state they are given.
package qa

import (
	"errors"
	"fmt"
	"strings"

	"foursight.local/orchestrator/internal/session"
)

// MaxQuestions is the most questions a worker may ask in one sufficiency check.
const MaxQuestions = 3

var ErrUnexpectedAnswer = errors.New("unexpected answer")

type Prompt struct {
	WorkerID string
	Question string
	Index    int
	Total    int
}

type Outcome struct {
	State       map[string]session.WorkerQAState
	WorkerID    string
	WorkerReady bool
	AllReady    bool
	Next        *Prompt
}

// NeedInfoState starts a worker's Q&A at its first question.
func NeedInfoState(questions []string) session.WorkerQAState {
	entries := make([]session.QAEntry, 0, len(questions))
	for _, q := range questions {
		entries = append(entries, session.QAEntry{Question: q})
	}
	if len(entries) == 0 {
		return ReadyState()
	}
	return session.WorkerQAState{Status: session.QANeedInfo, Questions: entries, CurrentIndex: 0}
}

func ReadyState() session.WorkerQAState {
	return session.WorkerQAState{Status: session.QAReady, Questions: []session.QAEntry{}, CurrentIndex: session.NoQuestion}
}

// FailedState records a worker whose sufficiency check failed. It carries no
// questions, so it does not hold up the Q&A phase.
func FailedState(err error) session.WorkerQAState {
	st := ReadyState()
	st.Error = err.Error()
	return st
}

func PendingState() session.WorkerQAState {
	return session.WorkerQAState{Status: session.QAPending, Questions: []session.QAEntry{}, CurrentIndex: session.NoQuestion}
}

// Active returns the first worker, in selection order, that is waiting on an answer.
func Active(order []string, state map[string]session.WorkerQAState) (string, bool) {
	for _, id := range order {
		st, ok := state[id]
		if !ok || st.Status != session.QANeedInfo {
			continue
		}
		if st.CurrentIndex >= 0 && st.CurrentIndex < len(st.Questions) {
			return id, true
		}
	}
	return "", false
}

func NextQuestion(order []string, state map[string]session.WorkerQAState) (Prompt, bool) {
	id, ok := Active(order, state)
	if !ok {
		return Prompt{}, false
	}
	st := state[id]
	return Prompt{
		WorkerID: id,
		Question: st.Questions[st.CurrentIndex].Question,
		Index:    st.CurrentIndex,
		Total:    len(st.Questions),
	}, true
}

// AllReady reports whether every selected worker has reached Ready.
func AllReady(order []string, state map[string]session.WorkerQAState) bool {
	if len(order) == 0 {
		return false
	}
	for _, id := range order {
		if state[id].Status != session.QAReady {
			return false
		}
	}
	return true
}

// RecordAnswer stores answer for workerID's current question. Only the
// active worker accepts answers; anything else is ErrUnexpectedAnswer and
// the input state is returned untouched.
func RecordAnswer(order []string, state map[string]session.WorkerQAState, workerID, answer string) (Outcome, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Outcome{}, fmt.Errorf("%w: answer must not be empty", ErrUnexpectedAnswer)
	}
	st, ok := state[workerID]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: unknown worker %q", ErrUnexpectedAnswer, workerID)
	}
	active, ok := Active(order, state)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no worker is waiting for an answer", ErrUnexpectedAnswer)
	}
	if active != workerID {
		return Outcome{}, fmt.Errorf("%w: %q is not expecting an answer, %q is", ErrUnexpectedAnswer, workerID, active)
	}

	next := make(map[string]session.WorkerQAState, len(state))
	for id, s := range state {
		next[id] = s.Clone()
	}
	st = next[workerID]
	st.Questions[st.CurrentIndex].Answer = &answer
	st.CurrentIndex++
	if st.CurrentIndex >= len(st.Questions) {
		st.Status = session.QAReady
		st.CurrentIndex = session.NoQuestion
	}
	next[workerID] = st

	out := Outcome{
		State:       next,
		WorkerID:    workerID,
		WorkerReady: st.Status == session.QAReady,
		AllReady:    AllReady(order, next),
	}
	if p, ok := NextQuestion(order, next); ok {
		out.Next = &p
	}
	return out, nil
}

// Collected returns the answered questions per worker, in selection order.
func Collected(order []string, state map[string]session.WorkerQAState) []Pair {
	var out []Pair
	for _, id := range order {
		for _, q := range state[id].Questions {
			if q.Answered() {
				out = append(out, Pair{WorkerID: id, Question: q.Question, Answer: *q.Answer})
			}
		}
	}
	return out
}

type Pair struct {
	WorkerID string
	Question string
	Answer   string
}
