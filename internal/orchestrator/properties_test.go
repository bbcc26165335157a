package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"

	"foursight.local/orchestrator/internal/qa"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/synth"
	"foursight.local/orchestrator/internal/types"
	"foursight.local/orchestrator/internal/worker"
)

// TestRandomTurnsKeepInvariants drives sessions with random, often invalid,
// turns and checks the document after every one.
func TestRandomTurnsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	catalogIDs := worker.DefaultCatalog().IDs()

	for seed := int64(0); seed < 40; seed++ {
		rng := rand.New(rand.NewSource(seed))

		questions := map[string][]string{}
		workers := newFakeWorkers(questions)
		for _, id := range catalogIDs {
			n := rng.Intn(qa.MaxQuestions + 1)
			for i := 0; i < n; i++ {
				questions[id] = append(questions[id], fmt.Sprintf("%s question %d?", id, i))
			}
			if rng.Intn(6) == 0 {
				workers.failPass1[id] = fmt.Errorf("%w: flaky", worker.ErrMalformedResponse)
			}
		}
		h := newHarness(t, nil, workers, Config{RequireSelectionConfirmation: rng.Intn(2) == 0})
		h.synth.failFor = rng.Intn(2)

		sessionID := fmt.Sprintf("seed%d", seed)
		for step := 0; step < 20; step++ {
			var err error
			switch rng.Intn(3) {
			case 0:
				_, err = h.ctrl.HandleMessage(ctx, sessionID, fmt.Sprintf("message %d", step))
			case 1:
				target := catalogIDs[rng.Intn(len(catalogIDs))]
				if p, ok, _ := h.ctrl.NextQuestion(ctx, sessionID); ok && rng.Intn(2) == 0 {
					target = p.WorkerID
				}
				_, err = h.ctrl.ManageQA(ctx, sessionID, target, "an answer")
			default:
				pick := []string{catalogIDs[rng.Intn(len(catalogIDs))], catalogIDs[rng.Intn(len(catalogIDs))]}
				_, err = h.ctrl.ConfirmSelection(ctx, sessionID, pick)
			}
			if err != nil && !expectedTurnError(err) {
				t.Fatalf("seed %d step %d: unexpected error %v", seed, step, err)
			}

			s, err := h.ctrl.Session(ctx, sessionID)
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			if err != nil {
				t.Fatalf("seed %d step %d: get: %v", seed, step, err)
			}
			if err := session.CheckInvariants(s); err != nil {
				t.Fatalf("seed %d step %d: %v", seed, step, err)
			}
			if len(s.AgentReports) > 0 && !qa.AllReady(s.SelectedFrameworks, s.QAState) {
				t.Fatalf("seed %d step %d: reports present before every worker is ready", seed, step)
			}
			if derived, ok := session.ResolvePhase(s); !ok {
				t.Fatalf("seed %d step %d: stored phase %s, derived %s", seed, step, s.Phase, derived)
			}
		}
	}
}

func expectedTurnError(err error) bool {
	return errors.Is(err, qa.ErrUnexpectedAnswer) ||
		errors.Is(err, ErrInvalidSelection) ||
		errors.Is(err, synth.ErrSynthesisFailure) ||
		errors.Is(err, session.ErrNotFound)
}

// TestResumeAfterRestart persists a session mid-dialog, reopens the
// database with a fresh controller, and finishes the dialog there.
func TestResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "foursight.db")

	durable, err := session.NewGormStore("sqlite", path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	first := newHarness(t, session.NewMirrorStore(durable, nil), scenarioAWorkers(), Config{})
	mustReply(t)(first.ctrl.HandleMessage(ctx, "s1", "Should I switch jobs?"))
	mustReply(t)(first.ctrl.HandleMessage(ctx, "s1", "Good team"))

	before, ok, err := first.ctrl.NextQuestion(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("next question before restart: ok=%v err=%v", ok, err)
	}
	if err := first.store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := session.NewGormStore("sqlite", path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	second := newHarness(t, session.NewMirrorStore(reopened, nil), scenarioAWorkers(), Config{})
	defer second.store.Close()

	after, ok, err := second.ctrl.NextQuestion(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("next question after restart: ok=%v err=%v", ok, err)
	}
	if after != before {
		t.Fatalf("resumed question differs: %#v vs %#v", after, before)
	}
	if after.WorkerID != "swot" || after.Index != 1 {
		t.Fatalf("unexpected resumed question %#v", after)
	}

	mustReply(t)(second.ctrl.HandleMessage(ctx, "s1", "Leadership role"))
	reply := mustReply(t)(second.ctrl.HandleMessage(ctx, "s1", "About 20% more"))
	if !reply.Completed {
		t.Fatalf("expected completion after restart, got %#v", reply)
	}

	final := second.workers.lastPayload("swot")
	if len(final.QAContext) != 3 || final.QAContext[0].Answer != "Good team" {
		t.Fatalf("answers from before the restart were lost: %#v", final.QAContext)
	}
}

// flakyReadStore fails the next failGets reads, then serves from the
// embedded store.
type flakyReadStore struct {
	*session.MemoryStore
	mu       sync.Mutex
	failGets int
}

func (s *flakyReadStore) failNext(n int) {
	s.mu.Lock()
	s.failGets = n
	s.mu.Unlock()
}

func (s *flakyReadStore) Get(ctx context.Context, sessionID string) (session.Session, error) {
	s.mu.Lock()
	fail := s.failGets > 0
	if fail {
		s.failGets--
	}
	s.mu.Unlock()
	if fail {
		return session.Session{}, fmt.Errorf("%w: get session: i/o timeout", session.ErrStoreUnavailable)
	}
	return s.MemoryStore.Get(ctx, sessionID)
}

// TestUnreadableStoreAfterRestartKeepsSession restarts mid-dialog while the
// database can't be read. The answer must not be taken as a new problem
// statement, and the stored session must be left alone.
func TestUnreadableStoreAfterRestartKeepsSession(t *testing.T) {
	ctx := context.Background()
	durable := &flakyReadStore{MemoryStore: session.NewMemoryStore()}

	first := newHarness(t, session.NewMirrorStore(durable, nil), scenarioAWorkers(), Config{})
	reply := mustReply(t)(first.ctrl.HandleMessage(ctx, "s1", "Should I switch jobs?"))
	expectQuestion(t, reply, types.SignalNextQuestion, "swot", 0)
	before, err := durable.MemoryStore.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("durable get: %v", err)
	}

	second := newHarness(t, session.NewMirrorStore(durable, nil), scenarioAWorkers(), Config{})
	durable.failNext(1)
	_, err = second.ctrl.HandleMessage(ctx, "s1", "I earn 80k now")
	if !errors.Is(err, session.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	after, err := durable.MemoryStore.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("durable get: %v", err)
	}
	if after.Query != "Should I switch jobs?" {
		t.Fatalf("query was overwritten: %q", after.Query)
	}
	if after.Revision != before.Revision || after.Phase != session.PhaseQAInProgress {
		t.Fatalf("stored session changed: revision %d -> %d, phase %s", before.Revision, after.Revision, after.Phase)
	}

	// Once the database answers again the dialog carries on where it was.
	reply = mustReply(t)(second.ctrl.HandleMessage(ctx, "s1", "Good team"))
	expectQuestion(t, reply, types.SignalNextQuestion, "swot", 1)
}
