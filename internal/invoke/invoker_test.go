package invoke

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"foursight.local/orchestrator/internal/worker"
)

func readyResult() worker.Result {
	return worker.Result{Mode: worker.ModeSufficiency, Sufficiency: &worker.SufficiencyResult{Status: worker.StatusReady}}
}

func TestInvokeAllCollectsEveryOutcome(t *testing.T) {
	client := worker.ClientFunc(func(ctx context.Context, id string, _ worker.Payload) (worker.Result, error) {
		switch id {
		case "slow":
			<-ctx.Done()
			return worker.Result{}, ctx.Err()
		case "broken":
			return worker.Result{}, errors.New("connection reset")
		case "wrong_mode":
			return worker.Result{Mode: worker.ModeFinal, Final: &worker.FinalReport{}}, nil
		default:
			return readyResult(), nil
		}
	})

	var observed int32
	inv := New(nil, client, WithTimeout(50*time.Millisecond), WithObserver(func(Outcome, worker.Mode) {
		atomic.AddInt32(&observed, 1)
	}))

	start := time.Now()
	got, err := inv.InvokeAll(context.Background(), []string{"swot", "slow", "broken", "wrong_mode"}, worker.Payload{Mode: worker.ModeSufficiency})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("invoke took too long: %s", time.Since(start))
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(got))
	}
	if got["swot"].Err != nil || got["swot"].Result.Sufficiency == nil {
		t.Fatalf("unexpected swot outcome %#v", got["swot"])
	}
	if !errors.Is(got["slow"].Err, worker.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", got["slow"].Err)
	}
	if got["broken"].Err == nil {
		t.Fatalf("expected broken worker error")
	}
	if !errors.Is(got["wrong_mode"].Err, worker.ErrMalformedResponse) {
		t.Fatalf("expected malformed response for wrong mode, got %v", got["wrong_mode"].Err)
	}
	if atomic.LoadInt32(&observed) != 4 {
		t.Fatalf("expected observer per outcome, got %d", observed)
	}
}

func TestInvokeAllRunsInParallel(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	client := worker.ClientFunc(func(context.Context, string, worker.Payload) (worker.Result, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return readyResult(), nil
	})

	ids := []string{"a", "b", "c", "d"}
	if _, err := New(nil, client).InvokeAll(context.Background(), ids, worker.Payload{Mode: worker.ModeSufficiency}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if peak != 4 {
		t.Fatalf("expected all workers in flight at once, peak=%d", peak)
	}

	peak = 0
	if _, err := New(nil, client, WithMaxParallel(2)).InvokeAll(context.Background(), ids, worker.Payload{Mode: worker.ModeSufficiency}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if peak > 2 {
		t.Fatalf("expected at most 2 in flight, peak=%d", peak)
	}
}

func TestInvokeAllIgnoresCallerCancellation(t *testing.T) {
	client := worker.ClientFunc(func(ctx context.Context, _ string, _ worker.Payload) (worker.Result, error) {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return worker.Result{}, err
		}
		return readyResult(), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := New(nil, client).InvokeAll(ctx, []string{"swot"}, worker.Payload{Mode: worker.ModeSufficiency})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got["swot"].Err != nil {
		t.Fatalf("cancelled caller should not abort workers: %v", got["swot"].Err)
	}
}

func TestInvokeAllRecoversPanics(t *testing.T) {
	client := worker.ClientFunc(func(context.Context, string, worker.Payload) (worker.Result, error) {
		panic("bad worker")
	})
	got, err := New(nil, client).InvokeAll(context.Background(), []string{"swot"}, worker.Payload{Mode: worker.ModeFinal})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got["swot"].Err == nil {
		t.Fatalf("expected panic to become an error")
	}
}

func TestInvokeAllInvalidSelection(t *testing.T) {
	inv := New(nil, worker.ClientFunc(func(context.Context, string, worker.Payload) (worker.Result, error) {
		return readyResult(), nil
	}))
	for _, ids := range [][]string{nil, {"swot", "swot"}, {""}} {
		if _, err := inv.InvokeAll(context.Background(), ids, worker.Payload{}); !errors.Is(err, ErrInvalidSelection) {
			t.Fatalf("%v: expected ErrInvalidSelection, got %v", ids, err)
		}
	}
}
