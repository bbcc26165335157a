package dispatch

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"foursight.local/orchestrator/internal/subscribers"
	"foursight.local/orchestrator/internal/types"
)

const defaultMaxPending = 1024

type Dispatcher struct {
	logger       *log.Logger
	lanes        []*lane
	retryCount   int
	retryBackoff time.Duration
	maxPending   int

	wg sync.WaitGroup
}

// lane holds the undelivered events of one subscriber. At most one goroutine
// drains it, so a subscriber sees events in dispatch order.
type lane struct {
	sub subscribers.Subscriber

	mu      sync.Mutex
	pending []delivery
	running bool
}

type delivery struct {
	ctx   context.Context
	event types.WorkflowEvent
}

func New(logger *log.Logger, subs []subscribers.Subscriber) *Dispatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	lanes := make([]*lane, 0, len(subs))
	for _, sub := range subs {
		lanes = append(lanes, &lane{sub: sub})
	}
	return &Dispatcher{
		logger:       logger,
		lanes:        lanes,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
		maxPending:   defaultMaxPending,
	}
}

// Dispatch queues event for every subscriber and returns without waiting.
// Each subscriber receives events one at a time in the order they were
// dispatched; a slow subscriber only delays itself. Deliveries outlive the
// caller's request.
func (d *Dispatcher) Dispatch(ctx context.Context, event types.WorkflowEvent) {
	if d == nil {
		return
	}
	dv := delivery{ctx: context.WithoutCancel(ctx), event: event}
	for _, l := range d.lanes {
		d.enqueue(l, dv)
	}
}

// Wait blocks until all queued deliveries have finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(l *lane, dv delivery) {
	l.mu.Lock()
	if len(l.pending) >= d.maxPending {
		l.mu.Unlock()
		d.logger.Printf("subscriber=%s event_id=%s session_id=%s dropped: %d deliveries pending", l.sub.Name(), dv.event.EventID, dv.event.SessionID, d.maxPending)
		return
	}
	l.pending = append(l.pending, dv)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	d.wg.Add(1)
	l.mu.Unlock()

	go d.drain(l)
}

func (d *Dispatcher) drain(l *lane) {
	defer d.wg.Done()
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		next := l.pending[0]
		l.pending[0] = delivery{}
		l.pending = l.pending[1:]
		l.mu.Unlock()

		d.dispatchOne(next.ctx, l.sub, next.event)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, sub subscribers.Subscriber, event types.WorkflowEvent) {
	for attempt := 1; attempt <= d.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		permanent := subscribers.IsPermanent(err)
		d.logger.Printf("subscriber=%s event_id=%s session_id=%s attempt=%d permanent=%t err=%v", sub.Name(), event.EventID, event.SessionID, attempt, permanent, err)
		if permanent || attempt == d.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(d.retryBackoff):
		}
	}
}
