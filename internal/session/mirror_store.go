package session

import (
	"context"
	"errors"
	"io"
	"log"
)

// MirrorStore keeps an in-memory copy of every session it writes and treats
// the durable store as best effort. Writes always land in the mirror; a
// durable failure is logged and reported through the degraded hook.
type MirrorStore struct {
	durable    Store
	mirror     *MemoryStore
	logger     *log.Logger
	onDegraded func(sessionID, op string, err error)
}

type MirrorOption func(*MirrorStore)

func WithDegradedHook(fn func(sessionID, op string, err error)) MirrorOption {
	return func(s *MirrorStore) {
		s.onDegraded = fn
	}
}

// NewMirrorStore wraps durable. A nil durable store yields a memory-only store.
func NewMirrorStore(durable Store, logger *log.Logger, opts ...MirrorOption) *MirrorStore {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &MirrorStore{
		durable: durable,
		mirror:  NewMemoryStore(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the freshest copy between the durable store and the mirror.
// When the durable read fails and the mirror has never seen the session, Get
// reports ErrStoreUnavailable rather than ErrNotFound: the session may well
// exist, and treating it as new would overwrite it.
func (s *MirrorStore) Get(ctx context.Context, sessionID string) (Session, error) {
	local, localErr := s.mirror.Get(ctx, sessionID)
	if s.durable == nil {
		return local, localErr
	}

	remote, err := s.durable.Get(ctx, sessionID)
	switch {
	case err == nil:
		if localErr == nil && local.Revision > remote.Revision {
			return local, nil
		}
		if putErr := s.mirror.Put(ctx, remote); putErr != nil {
			s.logger.Printf("session mirror seed failed session_id=%s err=%v", sessionID, putErr)
		}
		return remote, nil
	case errors.Is(err, ErrNotFound):
		return local, localErr
	default:
		s.degraded(sessionID, "get", err)
		if errors.Is(localErr, ErrNotFound) {
			return Session{}, unavailable("get session", err)
		}
		return local, localErr
	}
}

func (s *MirrorStore) Update(ctx context.Context, sessionID string, patch Patch, merge bool) (Session, error) {
	if s.durable != nil && !s.mirror.Has(sessionID) {
		// Seed from durable so a merge after restart starts from persisted state.
		if remote, err := s.durable.Get(ctx, sessionID); err == nil {
			_ = s.mirror.Put(ctx, remote)
		} else if !errors.Is(err, ErrNotFound) {
			s.degraded(sessionID, "seed", err)
		}
	}

	updated, err := s.mirror.Update(ctx, sessionID, patch, merge)
	if err != nil {
		return Session{}, err
	}
	if s.durable != nil {
		if err := s.durable.Put(ctx, updated); err != nil {
			s.degraded(sessionID, "update", err)
		}
	}
	return updated, nil
}

func (s *MirrorStore) Put(ctx context.Context, session Session) error {
	if err := s.mirror.Put(ctx, session); err != nil {
		return err
	}
	if s.durable != nil {
		if err := s.durable.Put(ctx, session); err != nil {
			s.degraded(session.SessionID, "put", err)
		}
	}
	return nil
}

func (s *MirrorStore) Close() error {
	_ = s.mirror.Close()
	if s.durable != nil {
		return s.durable.Close()
	}
	return nil
}

func (s *MirrorStore) degraded(sessionID, op string, err error) {
	s.logger.Printf("session store degraded op=%s session_id=%s err=%v", op, sessionID, err)
	if s.onDegraded != nil {
		s.onDegraded(sessionID, op, err)
	}
}
