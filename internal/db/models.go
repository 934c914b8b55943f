package db

import (
	"time"
)

// APIToken is one bearer token row. Token is the UUID v4 string form; Role is
// one of identity.RoleAdmin / identity.RoleMusic. Hostname is the machine the
// token was minted for, returned by verification so callers know who they are
// talking to.
type APIToken struct {
	Token     string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	Hostname  string    `gorm:"not null;index"`
	Role      string    `gorm:"not null"`
}

func (APIToken) TableName() string { return "api_tokens" }

// MusicSession is one delegated session row. ID and Hostname carry named
// unique constraints (music_sessions_id_key, music_sessions_hostname_key) so
// the create routine can tell which one an insert tripped over.
type MusicSession struct {
	ID        string    `gorm:"uniqueIndex:music_sessions_id_key;not null"`
	Hostname  string    `gorm:"uniqueIndex:music_sessions_hostname_key;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

func (MusicSession) TableName() string { return "music_sessions" }

// MachineStatusRow is the persisted form of a machine's network fingerprint,
// keyed by hostname and overwritten on every publish. IPConnections holds the
// per-interface list serialized as JSON; the store layer owns the encoding.
type MachineStatusRow struct {
	Hostname      string `gorm:"primaryKey"`
	ExternalIP    string `gorm:"not null;default:''"`
	SSH           *int
	DefaultUser   *string
	LastHeartbeat time.Time `gorm:"not null"`
	IPConnections string    `gorm:"column:ip_connections;type:text;not null;default:'[]'"`
}

func (MachineStatusRow) TableName() string { return "machine_status" }
