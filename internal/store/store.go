// Package store implements the persistent stores backing the control plane:
// API bearer tokens, delegated music sessions, and per-host machine status.
// Each store is an interface with a GORM implementation so handlers and the
// link server can be tested against fakes or an in-memory SQLite database.
package store

import (
	"context"
	"time"

	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// TokenStore is the persistent table of bearer tokens, each bound to a role
// and an owning hostname.
type TokenStore interface {
	// Insert adds a token row. The role must be a concrete role.
	Insert(ctx context.Context, token identity.Token, hostname identity.Hostname, role identity.Role) error

	// Delete removes all rows matching hostname and role.
	Delete(ctx context.Context, hostname identity.Hostname, role identity.Role) error

	// Verify checks the raw bearer value against required. It returns the
	// token's owning hostname on success, ErrInvalidToken when raw is not a
	// token at all, and ErrUnauthorizedToken when no row with a sufficient
	// role matches.
	Verify(ctx context.Context, raw string, required identity.Role) (identity.Hostname, error)
}

// SessionStore is the table of ephemeral delegated music sessions.
type SessionStore interface {
	// Create mints a session for hostname, or refreshes the live one.
	// expiresAt defaults to now + DefaultSessionTTL when nil. Creation is
	// idempotent per hostname: a live session keeps its id and gets its
	// expiry refreshed; an expired one is rotated to a fresh id.
	Create(ctx context.Context, hostname identity.Hostname, expiresAt *time.Time) (identity.SessionID, error)

	// Hostname resolves a session id to its hostname, or ErrNotFound when
	// the row is missing or expired.
	Hostname(ctx context.Context, id identity.SessionID) (identity.Hostname, error)

	// Delete removes the row unconditionally.
	Delete(ctx context.Context, id identity.SessionID) error

	// DeleteExpired purges rows past their expiry. Run from a background
	// job; Create does not depend on it.
	DeleteExpired(ctx context.Context) (int64, error)
}

// StatusStore holds the latest network snapshot per host.
type StatusStore interface {
	// Put overwrites the row keyed by the status's hostname and stamps
	// last_heartbeat with the current time.
	Put(ctx context.Context, status protocol.MachineStatus) error

	// GetAll returns all rows. Callers filter on recency.
	GetAll(ctx context.Context) (map[identity.Hostname]protocol.MachineStatus, error)
}
