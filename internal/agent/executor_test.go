package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fleetlink-io/fleetlink/internal/agent/player"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// fakePlayer records the last call and returns canned values.
type fakePlayer struct {
	lastCall string
	title    string
	paused   bool
	volume   int32
	err      error
}

func (p *fakePlayer) Next(context.Context) (string, error) {
	p.lastCall = "next"
	return p.title, p.err
}

func (p *fakePlayer) Prev(context.Context) (string, error) {
	p.lastCall = "prev"
	return p.title, p.err
}

func (p *fakePlayer) CyclePause(context.Context) (bool, error) {
	p.lastCall = "toggle"
	return p.paused, p.err
}

func (p *fakePlayer) ChangeVolume(_ context.Context, amount int32) (int32, error) {
	p.lastCall = "volume"
	return p.volume + amount, p.err
}

func (p *fakePlayer) Current(context.Context) (protocol.CurrentSnapshot, error) {
	p.lastCall = "current"
	return protocol.CurrentSnapshot{Title: p.title, Volume: p.volume}, p.err
}

func (p *fakePlayer) Queue(_ context.Context, query string, _ bool) (protocol.QueueSummary, error) {
	p.lastCall = "queue " + query
	return protocol.QueueSummary{From: 9, MovedTo: 3, Current: p.title}, p.err
}

func (p *fakePlayer) Now(context.Context, *uint) (protocol.NowPlaying, error) {
	p.lastCall = "now"
	return protocol.NowPlaying{Current: p.title}, p.err
}

func newTestExecutor(t *testing.T, p *fakePlayer) *Executor {
	t.Helper()
	// A nil *fakePlayer must become a nil interface, not a non-nil
	// interface holding a nil pointer.
	var pl player.Player
	if p != nil {
		pl = p
	}
	return NewExecutor("v1.2.3", pl, zaptest.NewLogger(t))
}

func TestExecuteHeartbeat(t *testing.T) {
	e := newTestExecutor(t, &fakePlayer{})

	resp, after := e.Execute(context.Background(), protocol.Heartbeat())
	require.NotNil(t, resp.Ok)
	assert.Equal(t, protocol.RespUnit, resp.Ok.Kind)
	assert.Nil(t, after)
}

func TestExecuteVersion(t *testing.T) {
	e := newTestExecutor(t, &fakePlayer{})

	resp, after := e.Execute(context.Background(), protocol.Version())
	require.NotNil(t, resp.Ok)
	assert.Equal(t, "v1.2.3", resp.Ok.Version)
	assert.Nil(t, after)
}

func TestExecuteReloadDefersRestart(t *testing.T) {
	e := newTestExecutor(t, &fakePlayer{})

	restarted := false
	e.restart = func() error {
		restarted = true
		return nil
	}

	resp, after := e.Execute(context.Background(), protocol.Reload())
	require.NotNil(t, resp.Ok)
	assert.Equal(t, protocol.RespUnit, resp.Ok.Kind)

	// The restart happens only when the post action runs, after the reply
	// has left the process.
	require.NotNil(t, after)
	assert.False(t, restarted)
	after()
	assert.True(t, restarted)
}

func TestExecuteMusicWithoutPlayer(t *testing.T) {
	e := newTestExecutor(t, nil)

	resp, _ := e.Execute(context.Background(), protocol.Music(protocol.MusicCmd{Command: protocol.Frwd()}))
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.ErrRequestFailed, resp.Err.Kind)
}

func TestExecuteMusicFrwd(t *testing.T) {
	p := &fakePlayer{title: "Song A"}
	e := newTestExecutor(t, p)

	resp, _ := e.Execute(context.Background(), protocol.Music(protocol.MusicCmd{Command: protocol.Frwd()}))
	require.NotNil(t, resp.Ok)
	assert.Equal(t, "Song A", resp.Ok.Title)
	assert.Equal(t, "next", p.lastCall)
}

func TestExecuteMusicCyclePause(t *testing.T) {
	p := &fakePlayer{paused: true}
	e := newTestExecutor(t, p)

	resp, _ := e.Execute(context.Background(), protocol.Music(protocol.MusicCmd{Command: protocol.CyclePause()}))
	require.NotNil(t, resp.Ok)
	assert.True(t, resp.Ok.Paused)
}

func TestExecuteMusicChangeVolume(t *testing.T) {
	p := &fakePlayer{volume: 50}
	e := newTestExecutor(t, p)

	resp, _ := e.Execute(context.Background(), protocol.Music(protocol.MusicCmd{Command: protocol.ChangeVolume(-10)}))
	require.NotNil(t, resp.Ok)
	assert.EqualValues(t, 40, resp.Ok.Volume)
}

func TestExecuteMusicChangeVolumeWithoutArgs(t *testing.T) {
	e := newTestExecutor(t, &fakePlayer{})

	cmd := protocol.Music(protocol.MusicCmd{Command: protocol.MusicCmdKind{Op: protocol.MusicChangeVolume}})
	resp, _ := e.Execute(context.Background(), cmd)
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.ErrDeserializingCommand, resp.Err.Kind)
}

func TestExecuteMusicQueue(t *testing.T) {
	p := &fakePlayer{title: "Song B"}
	e := newTestExecutor(t, p)

	cmd := protocol.Music(protocol.MusicCmd{Command: protocol.Queue("artist song", true)})
	resp, _ := e.Execute(context.Background(), cmd)
	require.NotNil(t, resp.Ok)
	require.NotNil(t, resp.Ok.Queue)
	assert.EqualValues(t, 3, resp.Ok.Queue.MovedTo)
	assert.Equal(t, "queue artist song", p.lastCall)
}

func TestExecuteMusicPlayerFailure(t *testing.T) {
	p := &fakePlayer{err: errors.New("mpd is down")}
	e := newTestExecutor(t, p)

	resp, _ := e.Execute(context.Background(), protocol.Music(protocol.MusicCmd{Command: protocol.Current()}))
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.ErrRequestFailed, resp.Err.Kind)
	assert.Contains(t, resp.Err.Message, "mpd is down")
}

func TestExecuteMusicWithoutPayload(t *testing.T) {
	e := newTestExecutor(t, &fakePlayer{})

	resp, _ := e.Execute(context.Background(), protocol.Command{Kind: protocol.CmdMusic})
	require.NotNil(t, resp.Err)
	assert.Equal(t, protocol.ErrDeserializingCommand, resp.Err.Kind)
}
