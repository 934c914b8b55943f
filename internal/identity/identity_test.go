package identity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHostname(t *testing.T) {
	for _, valid := range []string{
		"kiwi",
		"kiwi.local",
		"a.b.c",
		"HOST42",
	} {
		h, err := ParseHostname(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, valid, h.String())
	}

	for _, invalid := range []string{
		"",
		".",
		"kiwi.",
		".kiwi",
		"kiwi..local",
		"kiwi_local",
		"kiwi local",
		"kiwi-local",
	} {
		_, err := ParseHostname(invalid)
		assert.ErrorIs(t, err, ErrHostnameInvalidChars, invalid)
	}
}

func TestParseHostnameLengthLimits(t *testing.T) {
	label := make([]byte, 63)
	for i := range label {
		label[i] = 'a'
	}
	_, err := ParseHostname(string(label))
	assert.NoError(t, err)

	_, err = ParseHostname(string(label) + "a")
	assert.ErrorIs(t, err, ErrHostnameInvalidChars)

	long := make([]byte, 254)
	for i := range long {
		long[i] = 'a'
	}
	_, err = ParseHostname(string(long))
	assert.ErrorIs(t, err, ErrHostnameTooLong)
}

func TestHostnameAsJSONMapKey(t *testing.T) {
	in := map[Hostname]int{"kiwi": 1, "pear.local": 2}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out map[Hostname]int
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	var bad map[Hostname]int
	assert.Error(t, json.Unmarshal([]byte(`{"not valid!":1}`), &bad))
}

func TestParseMacAddr(t *testing.T) {
	mac, err := ParseMacAddr("aa:BB:0c:11:22:33")
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:0c:11:22:33", mac.String())

	mac8, err := ParseMacAddr("00:11:22:33:44:55:66:77")
	require.NoError(t, err)
	assert.Len(t, []byte(mac8), 8)

	for _, invalid := range []string{
		"",
		"aa:bb:cc",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"aa:bb:cc:dd:ee:gg",
		"aaa:bb:cc:dd:ee:ff",
		"a:bb:cc:dd:ee:ff",
	} {
		_, err := ParseMacAddr(invalid)
		assert.ErrorIs(t, err, ErrBadMacAddr, invalid)
	}
}

func TestRoleGrants(t *testing.T) {
	assert.True(t, RoleAdmin.Grants(RoleAdmin))
	assert.True(t, RoleAdmin.Grants(RoleMusic))
	assert.True(t, RoleMusic.Grants(RoleMusic))
	assert.False(t, RoleMusic.Grants(RoleAdmin))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, r)

	_, err = ParseRole("root")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[SessionID]struct{})
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		assert.Len(t, id.String(), SessionIDLen)

		parsed, err := ParseSessionID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
		seen[id] = struct{}{}
	}
	// 100 draws from a 24-bit space collide with negligible probability.
	assert.Greater(t, len(seen), 95)
}

func TestParseSessionID(t *testing.T) {
	for _, invalid := range []string{"", "abc12", "abc1234", "abc12!", "ab c12"} {
		_, err := ParseSessionID(invalid)
		assert.ErrorIs(t, err, ErrBadSessionID, invalid)
	}

	id, err := ParseSessionID("AbC123")
	require.NoError(t, err)
	assert.Equal(t, SessionID("AbC123"), id)
}

func TestParseToken(t *testing.T) {
	token := NewToken()

	parsed, err := ParseToken(token.String())
	require.NoError(t, err)
	assert.Equal(t, token, parsed)

	_, err = ParseToken("not-a-uuid")
	assert.ErrorIs(t, err, ErrBadToken)
}
