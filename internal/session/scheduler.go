package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"
)

var ErrSessionQueueFull = errors.New("session queue full")

const defaultIdleTimeout = 2 * time.Minute

// Scheduler runs jobs for the same session one at a time, in submission
// order. Different sessions run concurrently.
type Scheduler struct {
	logger      *log.Logger
	queueSize   int
	idleTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*queue
}

type queue struct {
	ch chan job
}

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

func NewScheduler(logger *log.Logger, queueSize int) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Scheduler{
		logger:      logger,
		queueSize:   queueSize,
		idleTimeout: defaultIdleTimeout,
		workers:     make(map[string]*queue),
	}
}

// Do queues fn behind earlier work for sessionID and waits for it to finish.
// A job whose ctx is already done when its turn comes is skipped.
func (s *Scheduler) Do(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if err := s.enqueue(sessionID, j); err != nil {
		return err
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) enqueue(key string, j job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.workers[key]
	if !ok {
		q = &queue{ch: make(chan job, s.queueSize)}
		s.workers[key] = q
		go s.run(key, q)
	}

	select {
	case q.ch <- j:
		return nil
	default:
		s.logger.Printf("session queue full session_id=%s", key)
		return ErrSessionQueueFull
	}
}

func (s *Scheduler) run(key string, q *queue) {
	timer := time.NewTimer(s.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case j := <-q.ch:
			s.execute(key, j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idleTimeout)
		case <-timer.C:
			s.mu.Lock()
			if len(q.ch) == 0 {
				delete(s.workers, key)
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			timer.Reset(s.idleTimeout)
		}
	}
}

func (s *Scheduler) execute(key string, j job) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("session job panicked session_id=%s panic=%v", key, r)
			j.done <- errors.New("session job panicked")
		}
	}()
	j.done <- j.fn(j.ctx)
}

// Active returns the number of sessions with a live worker goroutine.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}
