package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrBadMacAddr is returned when a MAC address is not 6 or 8 colon-separated
// hex octets.
var ErrBadMacAddr = errors.New("identity: malformed MAC address")

// MacAddr is a 6-byte (EUI-48) or 8-byte (EUI-64) hardware address.
// The human-readable form is lowercase hex octets separated by colons;
// the binary form is the raw byte sequence.
type MacAddr []byte

// ParseMacAddr parses a colon-separated hex representation, accepting
// exactly 6 or 8 octets.
func ParseMacAddr(s string) (MacAddr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 && len(parts) != 8 {
		return nil, fmt.Errorf("%w: %q has %d octets", ErrBadMacAddr, s, len(parts))
	}
	mac := make(MacAddr, len(parts))
	for i, p := range parts {
		if len(p) != 2 {
			return nil, fmt.Errorf("%w: octet %q", ErrBadMacAddr, p)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: octet %q", ErrBadMacAddr, p)
		}
		mac[i] = b[0]
	}
	return mac, nil
}

func (m MacAddr) String() string {
	var sb strings.Builder
	for i, b := range m {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// MarshalText encodes the address in its human-readable colon form.
func (m MacAddr) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes the colon form, enforcing the 6-or-8 octet contract.
func (m *MacAddr) UnmarshalText(text []byte) error {
	parsed, err := ParseMacAddr(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
