package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrBadToken is returned when a bearer token is not a well-formed UUID.
var ErrBadToken = errors.New("identity: malformed token")

// Token is an opaque API bearer token. Tokens are UUID v4 values minted by
// the seed command and stored in the api_tokens table alongside a role and
// an owning hostname.
type Token = uuid.UUID

// NewToken mints a fresh random token.
func NewToken() Token {
	return uuid.New()
}

// ParseToken validates the textual form of a bearer token. A parse failure
// means the caller sent something that was never a token, which the HTTP
// layer reports as a 400 rather than a 401.
func ParseToken(s string) (Token, error) {
	t, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	return t, nil
}
