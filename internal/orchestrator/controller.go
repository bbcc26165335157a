package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"foursight.local/orchestrator/internal/dispatch"
	"foursight.local/orchestrator/internal/ids"
	"foursight.local/orchestrator/internal/invoke"
	"foursight.local/orchestrator/internal/qa"
	"foursight.local/orchestrator/internal/ranker"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/synth"
	"foursight.local/orchestrator/internal/types"
	"foursight.local/orchestrator/internal/worker"
)

var (
	// ErrInvalidSelection is shared with the invoker so callers can test either.
	ErrInvalidSelection = invoke.ErrInvalidSelection
	ErrEmptyMessage     = errors.New("message is empty")
	ErrInvalidSessionID = errors.New("invalid session id")
)

const (
	defaultSelectionSize     = 4
	defaultConfidence        = 0.8
	defaultSessionQueueSize  = 64
	maxSelectedFrameworks    = 10
	minExpectedSelectionSize = 3
)

var defaultSelection = []string{"swot", "pros_cons", "cost_benefit", "decide_model"}

type Config struct {
	// SelectionSize is how many top-ranked frameworks are selected.
	SelectionSize int
	// DefaultSelection is used when ranking is unavailable.
	DefaultSelection []string
	// RequireSelectionConfirmation stops after ranking until the user picks
	// frameworks.
	RequireSelectionConfirmation bool
	DefaultConfidence            float64
	SessionQueueSize             int
}

func (c Config) withDefaults() Config {
	if c.SelectionSize <= 0 {
		c.SelectionSize = defaultSelectionSize
	}
	if c.SelectionSize > maxSelectedFrameworks {
		c.SelectionSize = maxSelectedFrameworks
	}
	if len(c.DefaultSelection) == 0 {
		c.DefaultSelection = append([]string(nil), defaultSelection...)
	}
	if c.DefaultConfidence <= 0 || c.DefaultConfidence > 1 {
		c.DefaultConfidence = defaultConfidence
	}
	if c.SessionQueueSize <= 0 {
		c.SessionQueueSize = defaultSessionQueueSize
	}
	return c
}

// Deps are the collaborators the controller drives.
type Deps struct {
	Store       session.Store
	Ranker      ranker.Ranker
	Invoker     *invoke.Invoker
	Synthesizer synth.Synthesizer
	Catalog     *worker.Catalog
	Dispatcher  *dispatch.Dispatcher
}

// Controller runs the analysis workflow. All work for one session is
// serialized; different sessions proceed independently.
type Controller struct {
	logger     *log.Logger
	store      session.Store
	ranker     ranker.Ranker
	invoker    *invoke.Invoker
	synth      synth.Synthesizer
	catalog    *worker.Catalog
	dispatcher *dispatch.Dispatcher
	scheduler  *session.Scheduler
	cfg        Config
	now        func() time.Time
}

func New(logger *log.Logger, deps Deps, cfg Config) (*Controller, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("session store is required")
	case deps.Invoker == nil:
		return nil, fmt.Errorf("invoker is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Ranker == nil {
		deps.Ranker = ranker.Unconfigured{}
	}
	if deps.Catalog == nil {
		deps.Catalog = worker.DefaultCatalog()
	}
	cfg = cfg.withDefaults()

	c := &Controller{
		logger:     logger,
		store:      deps.Store,
		ranker:     deps.Ranker,
		invoker:    deps.Invoker,
		synth:      deps.Synthesizer,
		catalog:    deps.Catalog,
		dispatcher: deps.Dispatcher,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	c.scheduler = session.NewScheduler(logger, cfg.SessionQueueSize)
	return c, nil
}

// HandleMessage advances the session by one user turn. What the text means
// depends on the phase: the problem statement, a framework selection, or an
// answer to the pending question.
func (c *Controller) HandleMessage(ctx context.Context, sessionID, text string) (types.Reply, error) {
	text = strings.TrimSpace(text)
	if err := checkSessionID(sessionID); err != nil {
		return types.Reply{}, err
	}
	if text == "" {
		return types.Reply{}, ErrEmptyMessage
	}

	var reply types.Reply
	err := c.scheduler.Do(ctx, sessionID, func(ctx context.Context) error {
		cur, err := c.load(ctx, sessionID)
		if err != nil {
			return err
		}
		reply, err = c.step(ctx, cur, text)
		return err
	})
	return reply, err
}

// StartSession opens a new session under an id the server just minted and
// treats text as its problem statement. The store is not read first, so a
// session can start while the durable store is down. Never pass an id a
// client supplied; use HandleMessage for those.
func (c *Controller) StartSession(ctx context.Context, sessionID, text string) (types.Reply, error) {
	text = strings.TrimSpace(text)
	if err := checkSessionID(sessionID); err != nil {
		return types.Reply{}, err
	}
	if text == "" {
		return types.Reply{}, ErrEmptyMessage
	}

	var reply types.Reply
	err := c.scheduler.Do(ctx, sessionID, func(ctx context.Context) error {
		var err error
		reply, err = c.start(ctx, session.New(sessionID, c.now()), text)
		return err
	})
	return reply, err
}

// ConfirmSelection fixes the frameworks for a session waiting on the user's
// choice and starts the sufficiency pass.
func (c *Controller) ConfirmSelection(ctx context.Context, sessionID string, frameworks []string) (types.Reply, error) {
	if err := checkSessionID(sessionID); err != nil {
		return types.Reply{}, err
	}

	var reply types.Reply
	err := c.scheduler.Do(ctx, sessionID, func(ctx context.Context) error {
		cur, err := c.loadExisting(ctx, sessionID)
		if err != nil {
			return err
		}
		if phase := c.phaseOf(cur); phase != session.PhaseAwaitingSelection {
			return fmt.Errorf("%w: session is in phase %s, not awaiting a selection", ErrInvalidSelection, phase)
		}
		reply, err = c.commitSelection(ctx, cur, frameworks)
		return err
	})
	return reply, err
}

// ManageQA records answer for target, which must be the worker whose
// question is currently pending. Anything else fails with
// qa.ErrUnexpectedAnswer and leaves the session untouched.
func (c *Controller) ManageQA(ctx context.Context, sessionID, target, answer string) (types.Reply, error) {
	if err := checkSessionID(sessionID); err != nil {
		return types.Reply{}, err
	}

	var reply types.Reply
	err := c.scheduler.Do(ctx, sessionID, func(ctx context.Context) error {
		cur, err := c.loadExisting(ctx, sessionID)
		if err != nil {
			return err
		}
		reply, err = c.answer(ctx, cur, worker.NormalizeID(target), answer)
		return err
	})
	return reply, err
}

// Session returns the stored session document.
func (c *Controller) Session(ctx context.Context, sessionID string) (session.Session, error) {
	if err := checkSessionID(sessionID); err != nil {
		return session.Session{}, err
	}
	return c.store.Get(ctx, sessionID)
}

// NextQuestion returns the question the session is waiting on, if any.
// It never changes state, so repeated calls give the same answer.
func (c *Controller) NextQuestion(ctx context.Context, sessionID string) (qa.Prompt, bool, error) {
	s, err := c.Session(ctx, sessionID)
	if err != nil {
		return qa.Prompt{}, false, err
	}
	p, ok := qa.NextQuestion(s.SelectedFrameworks, s.QAState)
	return p, ok, nil
}

// Frameworks lists the catalog.
func (c *Controller) Frameworks() []worker.Framework {
	return c.catalog.All()
}

// step dispatches one message according to the session's phase.
func (c *Controller) step(ctx context.Context, cur session.Session, text string) (types.Reply, error) {
	switch phase := c.phaseOf(cur); phase {
	case session.PhaseAwaitingQuery:
		return c.start(ctx, cur, text)
	case session.PhaseRanking:
		// Interrupted before the ranking was stored; the original query stands.
		return c.rank(ctx, cur)
	case session.PhaseAwaitingSelection:
		picked, err := c.parseSelection(cur, text)
		if err != nil {
			return types.Reply{}, err
		}
		return c.commitSelection(ctx, cur, picked)
	case session.PhasePass1Running:
		return c.runPass1(ctx, cur)
	case session.PhaseQAInProgress:
		active, _ := qa.Active(cur.SelectedFrameworks, cur.QAState)
		return c.answer(ctx, cur, active, text)
	case session.PhasePass2Running:
		return c.runPass2(ctx, cur)
	case session.PhaseSynthesizing:
		return c.synthesize(ctx, cur)
	case session.PhaseCompleted:
		return completedReply(cur), nil
	default:
		return types.Reply{}, fmt.Errorf("%w: unknown phase %q", session.ErrInvariant, phase)
	}
}

// load returns the stored session, or a new one when the store reports it
// missing. Any other failure, including an unreadable durable store, is
// returned so the message is never mistaken for a fresh problem statement.
func (c *Controller) load(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := c.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(sessionID, c.now()), nil
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

func (c *Controller) loadExisting(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	return s, nil
}

// phaseOf derives the phase from the document and logs when the stored
// marker disagrees.
func (c *Controller) phaseOf(s session.Session) session.Phase {
	phase, ok := session.ResolvePhase(s)
	if !ok {
		c.logger.Printf("phase mismatch session_id=%s stored=%s derived=%s", s.SessionID, s.Phase, phase)
	}
	return phase
}

// commit validates the patched document, then writes it. The stored phase
// marker is always the one derived from the result.
func (c *Controller) commit(ctx context.Context, cur session.Session, patch session.Patch) (session.Session, error) {
	next := cur.Apply(patch, true, c.now())
	phase := session.DerivePhase(next)
	patch.Phase = session.PhasePtr(phase)
	next.Phase = phase
	if err := session.CheckInvariants(next); err != nil {
		return session.Session{}, err
	}

	saved, err := c.store.Update(ctx, cur.SessionID, patch, true)
	if err != nil {
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	return saved, nil
}

func checkSessionID(sessionID string) error {
	if !ids.Valid(sessionID) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}
	return nil
}
