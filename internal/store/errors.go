package store

import "errors"

// ErrNotFound is returned when the requested row does not exist (or, for
// sessions, has expired). Check with errors.Is to distinguish missing rows
// from database failures.
var ErrNotFound = errors.New("store: record not found")

// ErrInvalidToken is returned by Verify when the presented bearer value is
// not a well-formed token. The HTTP layer maps it to 400.
var ErrInvalidToken = errors.New("store: malformed token")

// ErrUnauthorizedToken is returned by Verify when the token is well-formed
// but no row with a sufficient role matches. The HTTP layer maps it to 401.
var ErrUnauthorizedToken = errors.New("store: unauthorized token")
