// Package identity defines the validated value types shared by the server,
// the agent, and the wire protocol: hostnames, MAC addresses, API tokens,
// roles, and music-session IDs. Each type carries an explicit parse/format
// contract so that a value that exists is a value that validated.
package identity

import (
	"errors"
	"fmt"
	"regexp"
)

const maxHostnameLen = 253

var (
	// ErrHostnameInvalidChars is returned when a hostname contains characters
	// outside alphanumeric labels separated by dots.
	ErrHostnameInvalidChars = errors.New("identity: hostname contains invalid characters")

	// ErrHostnameTooLong is returned when a hostname exceeds 253 characters.
	ErrHostnameTooLong = errors.New("identity: hostname exceeds 253 characters")
)

// hostnameRe matches dot-separated alphanumeric labels of 1-63 characters.
var hostnameRe = regexp.MustCompile(`^([A-Za-z0-9]{1,63}\.)*[A-Za-z0-9]{1,63}$`)

// Hostname is a validated machine name. The zero value is invalid; obtain
// instances through ParseHostname or UnmarshalText.
type Hostname string

// ParseHostname validates s and returns it as a Hostname.
func ParseHostname(s string) (Hostname, error) {
	if len(s) > maxHostnameLen {
		return "", fmt.Errorf("%w: %d characters", ErrHostnameTooLong, len(s))
	}
	if !hostnameRe.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrHostnameInvalidChars, s)
	}
	return Hostname(s), nil
}

func (h Hostname) String() string { return string(h) }

// MarshalText implements encoding.TextMarshaler. Hostname is used as a JSON
// map key in the machine-status API, which requires text marshalling.
func (h Hostname) MarshalText() ([]byte, error) {
	return []byte(h), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating on decode so
// malformed hostnames cannot enter the system through a JSON body.
func (h *Hostname) UnmarshalText(text []byte) error {
	parsed, err := ParseHostname(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
