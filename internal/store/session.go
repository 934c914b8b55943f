package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fleetlink-io/fleetlink/internal/db"
	"github.com/fleetlink-io/fleetlink/internal/identity"
)

// DefaultSessionTTL is the expiry applied when a session is created without
// an explicit expires_at.
const DefaultSessionTTL = 4 * time.Hour

// maxIDAttempts bounds the retry loop on session-id collisions. With a
// 24-bit id space and short-lived rows, hitting this cap means something is
// seriously wrong with the table, not bad luck.
const maxIDAttempts = 16

// gormSessionStore is the GORM implementation of SessionStore.
type gormSessionStore struct {
	db *gorm.DB
}

// NewSessionStore returns a SessionStore backed by the provided *gorm.DB.
func NewSessionStore(database *gorm.DB) SessionStore {
	return &gormSessionStore{db: database}
}

// Create implements the idempotent creation dance:
//
//  1. INSERT a fresh random id.
//  2. On an id collision, retry with a new id.
//  3. On a hostname collision, the host already has a row: if it is still
//     live, refresh its expiry and return the same id; if it has expired,
//     refresh the expiry and rotate the id (again retrying on collisions).
func (s *gormSessionStore) Create(ctx context.Context, hostname identity.Hostname, expiresAt *time.Time) (identity.SessionID, error) {
	exp := time.Now().UTC().Add(DefaultSessionTTL)
	if expiresAt != nil {
		exp = expiresAt.UTC()
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := identity.NewSessionID()
		row := db.MusicSession{ID: id.String(), Hostname: hostname.String(), ExpiresAt: exp}

		err := s.db.WithContext(ctx).Create(&row).Error
		switch {
		case err == nil:
			return id, nil

		case uniqueViolation(err, "id"):
			continue

		case uniqueViolation(err, "hostname"):
			existing, err := s.refresh(ctx, hostname, id, exp)
			if err != nil {
				return "", err
			}
			if existing != "" {
				return existing, nil
			}
			// Rotation lost a race on the new id; go around again.
			continue

		default:
			return "", fmt.Errorf("sessions: create: %w", err)
		}
	}
	return "", fmt.Errorf("sessions: create: gave up after %d id collisions", maxIDAttempts)
}

// refresh handles the unique-hostname branch of Create. It returns the id to
// hand back, or "" when the caller should retry with a fresh id.
func (s *gormSessionStore) refresh(ctx context.Context, hostname identity.Hostname, fresh identity.SessionID, exp time.Time) (identity.SessionID, error) {
	var existing db.MusicSession
	err := s.db.WithContext(ctx).First(&existing, "hostname = ?", hostname.String()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted between our INSERT and this lookup; retry the insert.
			return "", nil
		}
		return "", fmt.Errorf("sessions: create: lookup existing: %w", err)
	}

	if existing.ExpiresAt.After(time.Now().UTC()) {
		// Live session: keep the id, push the expiry.
		err := s.db.WithContext(ctx).
			Model(&db.MusicSession{}).
			Where("hostname = ? AND id = ?", hostname.String(), existing.ID).
			Update("expires_at", exp).Error
		if err != nil {
			return "", fmt.Errorf("sessions: create: refresh expiry: %w", err)
		}
		return identity.SessionID(existing.ID), nil
	}

	// Expired session: rotate the id along with the expiry so a stale id
	// cannot be revived by a later create.
	res := s.db.WithContext(ctx).
		Model(&db.MusicSession{}).
		Where("hostname = ? AND id = ?", hostname.String(), existing.ID).
		Updates(map[string]interface{}{"id": fresh.String(), "expires_at": exp})
	if res.Error != nil {
		if uniqueViolation(res.Error, "id") {
			return "", nil
		}
		return "", fmt.Errorf("sessions: create: rotate id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// The row changed underneath us; retry from the top.
		return "", nil
	}
	return fresh, nil
}

func (s *gormSessionStore) Hostname(ctx context.Context, id identity.SessionID) (identity.Hostname, error) {
	var row db.MusicSession
	err := s.db.WithContext(ctx).
		First(&row, "id = ? AND expires_at > ?", id.String(), time.Now().UTC()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("sessions: hostname: %w", err)
	}
	return identity.ParseHostname(row.Hostname)
}

func (s *gormSessionStore) Delete(ctx context.Context, id identity.SessionID) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", id.String()).
		Delete(&db.MusicSession{}).Error
	if err != nil {
		return fmt.Errorf("sessions: delete: %w", err)
	}
	return nil
}

func (s *gormSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&db.MusicSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("sessions: delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// uniqueViolation reports whether err is a unique-constraint violation on
// the named music_sessions column. SQLite reports "UNIQUE constraint failed:
// music_sessions.<col>"; Postgres reports the constraint by its name, which
// the migration fixes as music_sessions_<col>_key.
func uniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "music_sessions."+column) ||
		strings.Contains(msg, "music_sessions_"+column+"_key")
}
