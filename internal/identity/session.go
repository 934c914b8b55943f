package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// SessionIDLen is the length of a music-session identifier.
const SessionIDLen = 6

// ErrBadSessionID is returned when a session ID is not 6 alphanumeric
// characters.
var ErrBadSessionID = errors.New("identity: malformed session id")

// SessionID is a short, possession-only bearer identifier that authorizes
// music commands toward one specific hostname. IDs are 6 lowercase hex
// characters drawn from a CSPRNG.
//
// The ID space is deliberately small enough to relay over voice chat;
// sessions compensate by expiring after a few hours.
type SessionID string

// NewSessionID generates a fresh random session ID.
func NewSessionID() SessionID {
	var buf [SessionIDLen / 2]byte
	// crypto/rand.Read never fails on supported platforms; it panics
	// internally if the kernel CSPRNG is unavailable.
	_, _ = rand.Read(buf[:])
	return SessionID(hex.EncodeToString(buf[:]))
}

// ParseSessionID validates an ID received from a client.
func ParseSessionID(s string) (SessionID, error) {
	if len(s) != SessionIDLen {
		return "", fmt.Errorf("%w: %q", ErrBadSessionID, s)
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return "", fmt.Errorf("%w: %q", ErrBadSessionID, s)
		}
	}
	return SessionID(s), nil
}

func (s SessionID) String() string { return string(s) }
