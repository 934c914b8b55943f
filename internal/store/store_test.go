package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fleetlink-io/fleetlink/internal/db"
	"github.com/fleetlink-io/fleetlink/internal/identity"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

func openTestDB(t *testing.T) *testStores {
	t.Helper()

	database, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      ":memory:",
		Logger:   zaptest.NewLogger(t),
		LogLevel: gormlogger.Silent,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return &testStores{
		tokens:   NewTokenStore(database),
		sessions: NewSessionStore(database),
		statuses: NewStatusStore(database),
	}
}

type testStores struct {
	tokens   TokenStore
	sessions SessionStore
	statuses StatusStore
}

func TestTokenVerify(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	admin := identity.NewToken()
	music := identity.NewToken()
	require.NoError(t, s.tokens.Insert(ctx, admin, "kiwi", identity.RoleAdmin))
	require.NoError(t, s.tokens.Insert(ctx, music, "pear", identity.RoleMusic))

	host, err := s.tokens.Verify(ctx, admin.String(), identity.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, identity.Hostname("kiwi"), host)

	// Admin grants music.
	_, err = s.tokens.Verify(ctx, admin.String(), identity.RoleMusic)
	assert.NoError(t, err)

	// Music does not grant admin.
	_, err = s.tokens.Verify(ctx, music.String(), identity.RoleAdmin)
	assert.ErrorIs(t, err, ErrUnauthorizedToken)

	_, err = s.tokens.Verify(ctx, music.String(), identity.RoleMusic)
	assert.NoError(t, err)

	// Malformed bearer is a different failure than an unknown one.
	_, err = s.tokens.Verify(ctx, "not-a-uuid", identity.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.tokens.Verify(ctx, identity.NewToken().String(), identity.RoleAdmin)
	assert.ErrorIs(t, err, ErrUnauthorizedToken)
}

func TestTokenDelete(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	token := identity.NewToken()
	require.NoError(t, s.tokens.Insert(ctx, token, "kiwi", identity.RoleAdmin))
	require.NoError(t, s.tokens.Delete(ctx, "kiwi", identity.RoleAdmin))

	_, err := s.tokens.Verify(ctx, token.String(), identity.RoleAdmin)
	assert.ErrorIs(t, err, ErrUnauthorizedToken)
}

func TestSessionCreateIsIdempotentWhileLive(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	first, err := s.sessions.Create(ctx, "kiwi", nil)
	require.NoError(t, err)

	second, err := s.sessions.Create(ctx, "kiwi", nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	host, err := s.sessions.Hostname(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, identity.Hostname("kiwi"), host)
}

func TestSessionExpiredRotatesID(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	stale, err := s.sessions.Create(ctx, "kiwi", &past)
	require.NoError(t, err)

	// Expired sessions resolve to nothing.
	_, err = s.sessions.Hostname(ctx, stale)
	assert.ErrorIs(t, err, ErrNotFound)

	fresh, err := s.sessions.Create(ctx, "kiwi", nil)
	require.NoError(t, err)
	assert.NotEqual(t, stale, fresh)

	// The stale id stays dead after rotation.
	_, err = s.sessions.Hostname(ctx, stale)
	assert.ErrorIs(t, err, ErrNotFound)

	host, err := s.sessions.Hostname(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, identity.Hostname("kiwi"), host)
}

func TestSessionDistinctHostsGetDistinctSessions(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	a, err := s.sessions.Create(ctx, "kiwi", nil)
	require.NoError(t, err)
	b, err := s.sessions.Create(ctx, "pear", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSessionDelete(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	id, err := s.sessions.Create(ctx, "kiwi", nil)
	require.NoError(t, err)

	require.NoError(t, s.sessions.Delete(ctx, id))
	_, err = s.sessions.Hostname(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent row is not an error.
	assert.NoError(t, s.sessions.Delete(ctx, id))
}

func TestSessionDeleteExpired(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	_, err := s.sessions.Create(ctx, "old1", &past)
	require.NoError(t, err)
	_, err = s.sessions.Create(ctx, "old2", &past)
	require.NoError(t, err)
	live, err := s.sessions.Create(ctx, "kiwi", nil)
	require.NoError(t, err)

	n, err := s.sessions.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.sessions.Hostname(ctx, live)
	assert.NoError(t, err)
}

func TestStatusPutAndGetAll(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	mac, err := identity.ParseMacAddr("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	ssh := uint16(222)
	user := "joe"

	status := protocol.MachineStatus{
		Hostname: "kiwi",
		IpConnections: []protocol.IpConnection{
			{LocalIP: "192.168.1.5", GatewayIP: "192.168.1.1", GatewayMac: &mac},
		},
		ExternalIP:  "203.0.113.7",
		SSH:         &ssh,
		DefaultUser: &user,
	}

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, s.statuses.Put(ctx, status))

	all, err := s.statuses.GetAll(ctx)
	require.NoError(t, err)
	require.Contains(t, all, identity.Hostname("kiwi"))

	got := all["kiwi"]
	assert.Equal(t, status.IpConnections, got.IpConnections)
	assert.Equal(t, status.ExternalIP, got.ExternalIP)
	assert.Equal(t, &ssh, got.SSH)
	assert.Equal(t, &user, got.DefaultUser)
	assert.True(t, got.LastHeartbeat.After(before))
}

func TestStatusPutIsLastWriterWins(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	first := protocol.MachineStatus{Hostname: "kiwi", ExternalIP: "203.0.113.7"}
	require.NoError(t, s.statuses.Put(ctx, first))

	second := protocol.MachineStatus{Hostname: "kiwi", ExternalIP: "198.51.100.2"}
	require.NoError(t, s.statuses.Put(ctx, second))

	all, err := s.statuses.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "198.51.100.2", all["kiwi"].ExternalIP)
}
