package invoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"foursight.local/orchestrator/internal/worker"
)

var ErrInvalidSelection = errors.New("invalid selection")

const DefaultTimeout = 30 * time.Second

// Outcome is one worker's result or error.
type Outcome struct {
	WorkerID string
	Result   worker.Result
	Err      error
	Duration time.Duration
}

// Invoker fans a payload out to several workers at once. Every call gets
// its own deadline and a failure never cancels the other calls.
type Invoker struct {
	client      worker.Client
	timeout     time.Duration
	maxParallel int
	logger      *log.Logger
	observe     func(Outcome, worker.Mode)
}

type Option func(*Invoker)

func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithMaxParallel bounds concurrent calls. Zero means one goroutine per worker.
func WithMaxParallel(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxParallel = n
		}
	}
}

// WithObserver is called once per finished call, from the calling goroutine.
func WithObserver(fn func(Outcome, worker.Mode)) Option {
	return func(i *Invoker) {
		i.observe = fn
	}
}

func New(logger *log.Logger, client worker.Client, opts ...Option) *Invoker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	i := &Invoker{
		client:  client,
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// InvokeAll calls every worker in workerIDs with payload and waits for all
// of them. The returned map has exactly one entry per worker.
//
// Calls are detached from ctx cancellation: a caller going away does not
// abort in-flight workers. Only the per-call timeout bounds them.
func (i *Invoker) InvokeAll(ctx context.Context, workerIDs []string, payload worker.Payload) (map[string]Outcome, error) {
	if len(workerIDs) == 0 {
		return nil, fmt.Errorf("%w: no workers selected", ErrInvalidSelection)
	}
	seen := make(map[string]struct{}, len(workerIDs))
	for _, id := range workerIDs {
		if id == "" {
			return nil, fmt.Errorf("%w: empty worker id", ErrInvalidSelection)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate worker %q", ErrInvalidSelection, id)
		}
		seen[id] = struct{}{}
	}

	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	if i.maxParallel > 0 {
		g.SetLimit(i.maxParallel)
	}

	var mu sync.Mutex
	outcomes := make(map[string]Outcome, len(workerIDs))
	for _, id := range workerIDs {
		id := id
		g.Go(func() error {
			out := i.call(base, id, payload)
			mu.Lock()
			outcomes[id] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, id := range workerIDs {
		out := outcomes[id]
		if out.Err != nil {
			failed++
		}
		if i.observe != nil {
			i.observe(out, payload.Mode)
		}
	}
	i.logger.Printf("invoke complete mode=%s workers=%d failed=%d", payload.Mode, len(workerIDs), failed)
	return outcomes, nil
}

func (i *Invoker) call(base context.Context, id string, payload worker.Payload) (out Outcome) {
	ctx, cancel := context.WithTimeout(base, i.timeout)
	defer cancel()

	start := time.Now()
	out.WorkerID = id
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("worker %s panicked: %v", id, r)
		}
		out.Duration = time.Since(start)
		if out.Err != nil {
			i.logger.Printf("worker call failed worker=%s mode=%s kind=%s duration=%s err=%v", id, payload.Mode, worker.ErrorKind(out.Err), out.Duration, out.Err)
		}
	}()

	res, err := i.client.Call(ctx, id, payload)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, worker.ErrTimeout) {
			err = fmt.Errorf("%w: worker %s: %v", worker.ErrTimeout, id, err)
		}
		out.Err = err
		return out
	}
	if err := checkMode(res, payload.Mode); err != nil {
		out.Err = fmt.Errorf("worker %s: %w", id, err)
		return out
	}
	out.Result = res
	return out
}

func checkMode(res worker.Result, mode worker.Mode) error {
	switch mode {
	case worker.ModeSufficiency:
		if res.Sufficiency == nil {
			return fmt.Errorf("%w: missing sufficiency result", worker.ErrMalformedResponse)
		}
	case worker.ModeFinal:
		if res.Final == nil {
			return fmt.Errorf("%w: missing final report", worker.ErrMalformedResponse)
		}
	}
	return nil
}
