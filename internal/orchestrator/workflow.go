package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"foursight.local/orchestrator/internal/invoke"
	"foursight.local/orchestrator/internal/qa"
	"foursight.local/orchestrator/internal/ranker"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/synth"
	"foursight.local/orchestrator/internal/types"
	"foursight.local/orchestrator/internal/worker"
)

var acceptWords = map[string]struct{}{
	"ok": {}, "okay": {}, "yes": {}, "y": {}, "sure": {}, "proceed": {}, "go": {}, "default": {}, "accept": {},
}

func (c *Controller) start(ctx context.Context, cur session.Session, query string) (types.Reply, error) {
	saved, err := c.commit(ctx, cur, session.Patch{Query: &query})
	if err != nil {
		return types.Reply{}, err
	}
	c.logger.Printf("session created session_id=%s", saved.SessionID)
	c.emit(ctx, saved, types.EventTypeSessionCreated, nil)
	return c.rank(ctx, saved)
}

// rank scores the catalog and either asks the user to pick or selects the
// top K directly. An unreachable ranker degrades to the default selection.
func (c *Controller) rank(ctx context.Context, cur session.Session) (types.Reply, error) {
	ranked, rankErr := c.ranker.Rank(ctx, cur.Query)
	if rankErr == nil {
		// Any Ranker may be plugged in; only catalog ids are ever selected.
		ranked = ranker.Normalize(ranked, c.catalog)
		if len(ranked) == 0 {
			rankErr = fmt.Errorf("%w: no ranked framework is in the catalog", ranker.ErrUnavailable)
		}
	}
	degraded := rankErr != nil
	var selection []string
	if degraded {
		c.logger.Printf("ranking unavailable session_id=%s err=%v", cur.SessionID, rankErr)
		selection = c.defaultSelection()
		ranked = ranker.Fallback(selection, c.catalog)
	} else {
		selection = ranker.TopK(ranked, c.cfg.SelectionSize)
	}

	saved, err := c.commit(ctx, cur, session.Patch{
		RankedFrameworks: ranked,
		RankingDegraded:  session.BoolPtr(degraded),
	})
	if err != nil {
		return types.Reply{}, err
	}

	payload := types.RankingPayload{Frameworks: ranker.TopK(ranked, len(ranked)), Degraded: degraded}
	if degraded {
		payload.Error = rankErr.Error()
		c.emit(ctx, saved, types.EventTypeRankingDegraded, payload)
	} else {
		c.emit(ctx, saved, types.EventTypeRankingCompleted, payload)
	}

	if c.cfg.RequireSelectionConfirmation {
		return types.Reply{
			SessionID: saved.SessionID,
			Phase:     string(saved.Phase),
			Message:   c.selectionPrompt(saved),
		}, nil
	}

	reply, err := c.commitSelection(ctx, saved, selection)
	if err != nil {
		return types.Reply{}, err
	}
	if degraded {
		reply.Message = joinParagraphs(rankingDegradedNotice, reply.Message)
	}
	return reply, nil
}

func (c *Controller) defaultSelection() []string {
	out := make([]string, 0, len(c.cfg.DefaultSelection))
	seen := make(map[string]struct{})
	for _, raw := range c.cfg.DefaultSelection {
		id := worker.NormalizeID(raw)
		if !c.catalog.Has(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if len(out) == maxSelectedFrameworks {
			break
		}
	}
	if len(out) == 0 {
		ids := c.catalog.IDs()
		if len(ids) > c.cfg.SelectionSize {
			ids = ids[:c.cfg.SelectionSize]
		}
		out = ids
	}
	return out
}

// parseSelection reads a free-text pick: an accept word for the top K, or a
// list of list numbers and framework ids.
func (c *Controller) parseSelection(cur session.Session, text string) ([]string, error) {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
	if len(tokens) == 1 {
		if _, ok := acceptWords[strings.ToLower(strings.Trim(tokens[0], ".!"))]; ok {
			return ranker.TopK(cur.RankedFrameworks, c.cfg.SelectionSize), nil
		}
	}

	picked := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.Trim(tok, ".")
		if tok == "" || strings.EqualFold(tok, "and") {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 1 || n > len(cur.RankedFrameworks) {
				return nil, fmt.Errorf("%w: %d is not on the list (choose 1-%d)", ErrInvalidSelection, n, len(cur.RankedFrameworks))
			}
			picked = append(picked, cur.RankedFrameworks[n-1].WorkerID)
			continue
		}
		picked = append(picked, tok)
	}
	return picked, nil
}

func (c *Controller) validateSelection(frameworks []string) ([]string, error) {
	if len(frameworks) == 0 {
		return nil, fmt.Errorf("%w: choose at least one framework", ErrInvalidSelection)
	}
	if len(frameworks) > maxSelectedFrameworks {
		return nil, fmt.Errorf("%w: at most %d frameworks can be selected", ErrInvalidSelection, maxSelectedFrameworks)
	}
	out := make([]string, 0, len(frameworks))
	seen := make(map[string]struct{}, len(frameworks))
	for _, raw := range frameworks {
		id := worker.NormalizeID(raw)
		if !c.catalog.Has(id) {
			return nil, fmt.Errorf("%w: unknown framework %q", ErrInvalidSelection, raw)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %q selected twice", ErrInvalidSelection, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (c *Controller) commitSelection(ctx context.Context, cur session.Session, frameworks []string) (types.Reply, error) {
	selected, err := c.validateSelection(frameworks)
	if err != nil {
		return types.Reply{}, err
	}
	if len(selected) < minExpectedSelectionSize || len(selected) > defaultSelectionSize {
		c.logger.Printf("unusual selection size session_id=%s count=%d", cur.SessionID, len(selected))
	}

	pending := make(map[string]session.WorkerQAState, len(selected))
	for _, id := range selected {
		pending[id] = qa.PendingState()
	}
	saved, err := c.commit(ctx, cur, session.Patch{SelectedFrameworks: selected, QAState: pending})
	if err != nil {
		return types.Reply{}, err
	}
	c.logger.Printf("selection confirmed session_id=%s frameworks=%s", saved.SessionID, strings.Join(selected, ","))
	c.emit(ctx, saved, types.EventTypeSelectionConfirmed, types.SelectionPayload{Selected: selected})

	reply, err := c.runPass1(ctx, saved)
	if err != nil {
		return types.Reply{}, err
	}
	reply.Message = joinParagraphs(fmt.Sprintf("Selection confirmed. Starting analysis with: %s.", c.displayNames(selected)), reply.Message)
	return reply, nil
}

// runPass1 asks every selected worker whether it has enough to work with.
// A failed check marks the worker ready without questions.
func (c *Controller) runPass1(ctx context.Context, cur session.Session) (types.Reply, error) {
	outcomes, err := c.invoker.InvokeAll(ctx, cur.SelectedFrameworks, worker.Payload{
		Mode:  worker.ModeSufficiency,
		Query: cur.Query,
	})
	if err != nil {
		return types.Reply{}, err
	}
	c.emitCalls(ctx, cur, outcomes, worker.ModeSufficiency)

	state := make(map[string]session.WorkerQAState, len(outcomes))
	var summary types.Pass1Payload
	lines := make([]string, 0, len(cur.SelectedFrameworks))
	for _, id := range cur.SelectedFrameworks {
		out := outcomes[id]
		name := c.displayName(id)
		switch {
		case out.Err != nil:
			state[id] = qa.FailedState(out.Err)
			summary.Failed = append(summary.Failed, id)
			lines = append(lines, fmt.Sprintf("- %s: check failed (%s), continuing without its questions", name, worker.ErrorKind(out.Err)))
		case out.Result.Sufficiency.Status == worker.StatusNeedInfo:
			state[id] = qa.NeedInfoState(out.Result.Sufficiency.Questions)
			summary.NeedInfo = append(summary.NeedInfo, id)
			lines = append(lines, fmt.Sprintf("- %s: needs more information (%d %s)", name, len(out.Result.Sufficiency.Questions), plural(len(out.Result.Sufficiency.Questions), "question", "questions")))
		default:
			state[id] = qa.ReadyState()
			summary.Ready = append(summary.Ready, id)
			lines = append(lines, fmt.Sprintf("- %s: ready to proceed", name))
		}
	}

	saved, err := c.commit(ctx, cur, session.Patch{QAState: state})
	if err != nil {
		return types.Reply{}, err
	}
	c.logger.Printf("pass1 complete session_id=%s ready=%d need_info=%d failed=%d", saved.SessionID, len(summary.Ready), len(summary.NeedInfo), len(summary.Failed))
	c.emit(ctx, saved, types.EventTypePass1Completed, summary)

	report := "Status report:\n" + strings.Join(lines, "\n")
	if p, ok := qa.NextQuestion(saved.SelectedFrameworks, saved.QAState); ok {
		c.emitQuestion(ctx, saved, p)
		return types.Reply{
			SessionID: saved.SessionID,
			Phase:     string(saved.Phase),
			Message:   joinParagraphs(report, c.questionText(p)),
			Signal:    types.SignalNextQuestion,
			Question:  toQuestion(p),
		}, nil
	}

	c.emit(ctx, saved, types.EventTypeAllWorkersReady, nil)
	reply, err := c.runPass2(ctx, saved)
	if err != nil {
		return types.Reply{}, err
	}
	reply.Signal = types.SignalAllAgentsReady
	reply.Message = joinParagraphs(report, reply.Message)
	return reply, nil
}

// answer records one Q&A answer and moves to the next question, or on to
// the final analysis once every worker is ready.
func (c *Controller) answer(ctx context.Context, cur session.Session, target, text string) (types.Reply, error) {
	if phase := c.phaseOf(cur); phase != session.PhaseQAInProgress {
		return types.Reply{}, fmt.Errorf("%w: no question is waiting for an answer (phase %s)", qa.ErrUnexpectedAnswer, phase)
	}
	out, err := qa.RecordAnswer(cur.SelectedFrameworks, cur.QAState, target, text)
	if err != nil {
		return types.Reply{}, err
	}

	saved, err := c.commit(ctx, cur, session.Patch{
		QAState: map[string]session.WorkerQAState{target: out.State[target]},
	})
	if err != nil {
		return types.Reply{}, err
	}
	c.emit(ctx, saved, types.EventTypeAnswerRecorded, types.QuestionPayload{
		WorkerID: target,
		Index:    cur.QAState[target].CurrentIndex,
		Question: cur.QAState[target].Questions[cur.QAState[target].CurrentIndex].Question,
	})

	if out.AllReady {
		c.logger.Printf("all workers ready session_id=%s", saved.SessionID)
		c.emit(ctx, saved, types.EventTypeAllWorkersReady, nil)
		reply, err := c.runPass2(ctx, saved)
		if err != nil {
			return types.Reply{}, err
		}
		reply.Signal = types.SignalAllAgentsReady
		reply.ReadyWorker = target
		reply.Message = joinParagraphs("Thanks, every framework now has what it needs.", reply.Message)
		return reply, nil
	}
	if out.Next == nil {
		return types.Reply{}, fmt.Errorf("%w: workers not ready but no question pending", session.ErrInvariant)
	}

	c.emitQuestion(ctx, saved, *out.Next)
	reply := types.Reply{
		SessionID: saved.SessionID,
		Phase:     string(saved.Phase),
		Signal:    types.SignalNextQuestion,
		Question:  toQuestion(*out.Next),
	}
	lead := "Got it."
	if out.WorkerReady {
		reply.Signal = types.SignalAgentReady
		reply.ReadyWorker = target
		lead = fmt.Sprintf("Thanks, %s has everything it needs.", c.displayName(target))
	}
	reply.Message = joinParagraphs(lead, c.questionText(*out.Next))
	return reply, nil
}

// runPass2 runs the final analysis with every collected answer as shared
// context. Failed workers get an error report and the rest carry on.
func (c *Controller) runPass2(ctx context.Context, cur session.Session) (types.Reply, error) {
	if !qa.AllReady(cur.SelectedFrameworks, cur.QAState) {
		return types.Reply{}, fmt.Errorf("%w: final analysis before every framework is ready", session.ErrInvariant)
	}

	pairs := qa.Collected(cur.SelectedFrameworks, cur.QAState)
	payload := worker.Payload{Mode: worker.ModeFinal, Query: cur.Query}
	for _, p := range pairs {
		payload.QAContext = append(payload.QAContext, worker.QAPair{WorkerID: p.WorkerID, Question: p.Question, Answer: p.Answer})
	}

	outcomes, err := c.invoker.InvokeAll(ctx, cur.SelectedFrameworks, payload)
	if err != nil {
		return types.Reply{}, err
	}
	c.emitCalls(ctx, cur, outcomes, worker.ModeFinal)

	reports := make(map[string]session.Report, len(outcomes))
	var summary types.Pass2Payload
	for _, id := range cur.SelectedFrameworks {
		reports[id] = reportFrom(id, outcomes[id])
		if outcomes[id].Err != nil {
			summary.Failed = append(summary.Failed, id)
		} else {
			summary.Succeeded = append(summary.Succeeded, id)
		}
	}

	saved, err := c.commit(ctx, cur, session.Patch{AgentReports: reports})
	if err != nil {
		return types.Reply{}, err
	}
	c.logger.Printf("pass2 complete session_id=%s succeeded=%d failed=%d", saved.SessionID, len(summary.Succeeded), len(summary.Failed))
	c.emit(ctx, saved, types.EventTypePass2Completed, summary)

	return c.synthesize(ctx, saved)
}

func reportFrom(id string, out invoke.Outcome) session.Report {
	if out.Err != nil {
		return session.Report{
			Caveat:    session.StringPtr(worker.FailureCaveat(id, out.Err)),
			Error:     out.Err.Error(),
			ErrorKind: worker.ErrorKind(out.Err),
		}
	}
	return session.Report{Fields: out.Result.Final.Fields, Caveat: out.Result.Final.Caveat}
}

// synthesize combines the stored reports. On failure the session stays in
// the synthesizing phase so the next turn retries.
func (c *Controller) synthesize(ctx context.Context, cur session.Session) (types.Reply, error) {
	res, err := c.synth.Synthesize(ctx, synth.Input{
		Query:   cur.Query,
		Reports: synth.ReportsFrom(cur.SelectedFrameworks, cur.AgentReports),
	})
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = errors.New("empty recommendation")
	}
	if err != nil {
		if !errors.Is(err, synth.ErrSynthesisFailure) {
			err = fmt.Errorf("%w: %v", synth.ErrSynthesisFailure, err)
		}
		c.logger.Printf("synthesis failed session_id=%s err=%v", cur.SessionID, err)
		c.emit(ctx, cur, types.EventTypeSynthesisFailed, types.SynthesisPayload{Error: err.Error()})
		return types.Reply{}, err
	}

	confidence := c.cfg.DefaultConfidence
	if res.Confidence != nil && *res.Confidence >= 0 && *res.Confidence <= 1 {
		confidence = *res.Confidence
	}
	text := strings.TrimSpace(res.Text)
	saved, err := c.commit(ctx, cur, session.Patch{
		FinalRecommendation: &text,
		ConfidenceScore:     &confidence,
		Status:              session.StatusPtr(session.StatusCompleted),
	})
	if err != nil {
		return types.Reply{}, err
	}
	c.logger.Printf("session completed session_id=%s confidence=%.2f", saved.SessionID, confidence)
	c.emit(ctx, saved, types.EventTypeSynthesisCompleted, types.SynthesisPayload{Confidence: confidence})
	return completedReply(saved), nil
}
