package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "foursight.local/orchestrator/internal/db"
)

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(driver, dsn string, opts ...dbpkg.Option) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn, opts...)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}
	return NewGormStoreFromDB(gormDB)
}

func NewGormStoreFromDB(gormDB *gorm.DB) (*GormStore, error) {
	store := &GormStore{
		db:  gormDB,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := store.db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return store, nil
}

func (s *GormStore) Get(ctx context.Context, sessionID string) (Session, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Session{}, err
	}

	var row sessionRow
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable("get session", err)
	}
	out, err := row.toSession()
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return out, nil
}

func (s *GormStore) Update(ctx context.Context, sessionID string, patch Patch, merge bool) (Session, error) {
	if err := validateSessionID(sessionID); err != nil {
		return Session{}, err
	}

	var updated Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		current := New(sessionID, now)

		var row sessionRow
		err := tx.Where("session_id = ?", sessionID).Take(&row).Error
		switch {
		case err == nil:
			loaded, err := row.toSession()
			if err != nil {
				return err
			}
			current = loaded
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return unavailable("get session", err)
		}

		updated = current.Apply(patch, merge, now)
		next, err := sessionRowFromSession(updated)
		if err != nil {
			return err
		}
		if err := tx.Save(&next).Error; err != nil {
			return unavailable("save session", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return Session{}, err
		}
		return Session{}, unavailable("update session", err)
	}
	return updated, nil
}

func (s *GormStore) Put(ctx context.Context, session Session) error {
	if err := validateSessionID(session.SessionID); err != nil {
		return err
	}
	row, err := sessionRowFromSession(session)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return unavailable("put session", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
