package identity

import (
	"errors"
	"fmt"
)

// Role is the capability level attached to an API token. Roles form a chain:
// Admin grants everything Music grants, Music grants only the music
// capability.
type Role string

const (
	// RoleAdmin may open persistent connections, relay arbitrary commands,
	// and manage music sessions.
	RoleAdmin Role = "admin"

	// RoleMusic may only forward music commands.
	RoleMusic Role = "music"
)

// ErrUnknownRole is returned when a role string is not part of the chain.
var ErrUnknownRole = errors.New("identity: unknown role")

// ParseRole validates a stored role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleMusic:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string { return string(r) }

// Grants reports whether a token holding role r satisfies a check for
// required. It walks the chain: a role grants itself and everything below
// it, and Admin sits above Music.
func (r Role) Grants(required Role) bool {
	if r == required {
		return true
	}
	return r == RoleAdmin && required == RoleMusic
}
