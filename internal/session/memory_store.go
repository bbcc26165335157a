package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	closed   bool
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Session, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Session{}, fmt.Errorf("memory store is closed")
	}

	existing, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return existing.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, sessionID string, patch Patch, merge bool) (Session, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Session{}, fmt.Errorf("memory store is closed")
	}

	now := s.now()
	existing, ok := s.sessions[sessionID]
	if !ok {
		existing = New(sessionID, now)
	}
	updated := existing.Apply(patch, merge, now)
	s.sessions[sessionID] = updated
	return updated.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, session Session) error {
	if err := validateSessionID(session.SessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	s.sessions[session.SessionID] = session.Clone()
	return nil
}

// Has reports whether a document for sessionID is held in memory.
func (s *MemoryStore) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
