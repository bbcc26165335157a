package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks a durable store failure the caller may degrade past.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists session documents keyed by session id.
type Store interface {
	Get(context.Context, string) (Session, error)
	// Update applies patch to the session, creating it when missing.
	Update(ctx context.Context, sessionID string, patch Patch, merge bool) (Session, error)
	// Put stores s as-is, replacing any existing document.
	Put(context.Context, Session) error
	Close() error
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session_id is required")
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
