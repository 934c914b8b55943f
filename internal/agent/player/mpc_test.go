package player

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const statusPlaying = `Some Song Title
[playing] #5/23   1:23/3:45 (36%)
volume: 85%   repeat: off   random: off   single: off   consume: off
`

const statusPaused = `Some Song Title
[paused]  #2/9   0:10/3:45 (4%)
volume: 40%   repeat: off   random: off   single: off   consume: off
`

// scripted returns an MPC whose runner replays canned outputs keyed by the
// joined argument list and records every invocation.
func scripted(t *testing.T, outputs map[string]string) (*MPC, *[]string) {
	t.Helper()

	var calls []string
	m := NewMPC(zaptest.NewLogger(t))
	m.run = func(_ context.Context, args ...string) (string, error) {
		key := strings.Join(args, " ")
		calls = append(calls, key)
		out, ok := outputs[key]
		if !ok {
			return "", errors.New("unexpected mpc invocation: " + key)
		}
		return strings.TrimSpace(out), nil
	}
	return m, &calls
}

func TestParseStatusPlaying(t *testing.T) {
	st, err := parseStatus(statusPlaying)
	require.NoError(t, err)

	assert.False(t, st.paused)
	assert.EqualValues(t, 5, st.index)
	assert.EqualValues(t, 23, st.total)
	assert.EqualValues(t, 36, st.progress)
	assert.EqualValues(t, 85, st.volume)
}

func TestParseStatusPaused(t *testing.T) {
	st, err := parseStatus(statusPaused)
	require.NoError(t, err)

	assert.True(t, st.paused)
	assert.EqualValues(t, 2, st.index)
	assert.EqualValues(t, 40, st.volume)
}

func TestParseStatusStopped(t *testing.T) {
	_, err := parseStatus("volume: 85%   repeat: off   random: off   single: off   consume: off")
	assert.Error(t, err)
}

func TestParseVolume(t *testing.T) {
	v, err := parseVolume("volume: 85%   repeat: off")
	require.NoError(t, err)
	assert.EqualValues(t, 85, v)

	_, err = parseVolume("mpd error: not connected")
	assert.Error(t, err)
}

func TestWindowAround(t *testing.T) {
	titles := []string{"a", "b", "c", "d", "e"}

	now := windowAround(titles, 3, 1)
	assert.Equal(t, []string{"b"}, now.Before)
	assert.Equal(t, "c", now.Current)
	assert.Equal(t, []string{"d"}, now.After)

	// Window clamped at both ends.
	now = windowAround(titles, 1, 10)
	assert.Empty(t, now.Before)
	assert.Equal(t, "a", now.Current)
	assert.Equal(t, []string{"b", "c", "d", "e"}, now.After)
}

func TestNext(t *testing.T) {
	m, calls := scripted(t, map[string]string{
		"next":                "",
		"current -f %title%":  "Next Song",
	})

	title, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Next Song", title)
	assert.Equal(t, []string{"next", "current -f %title%"}, *calls)
}

func TestCyclePause(t *testing.T) {
	m, _ := scripted(t, map[string]string{
		"toggle": statusPaused,
	})

	paused, err := m.CyclePause(context.Background())
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestChangeVolume(t *testing.T) {
	m, calls := scripted(t, map[string]string{
		"volume -10": "",
		"volume":     "volume: 40%",
	})

	v, err := m.ChangeVolume(context.Background(), -10)
	require.NoError(t, err)
	assert.EqualValues(t, 40, v)
	assert.Equal(t, []string{"volume -10", "volume"}, *calls)
}

func TestChangeVolumeUpUsesPlusSign(t *testing.T) {
	m, calls := scripted(t, map[string]string{
		"volume +5": "",
		"volume":    "volume: 90%",
	})

	_, err := m.ChangeVolume(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "volume +5", (*calls)[0])
}

func TestCurrent(t *testing.T) {
	m, _ := scripted(t, map[string]string{
		"current -f %title%": "Some Song Title",
		"status":             statusPlaying,
	})

	cur, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Some Song Title", cur.Title)
	assert.False(t, cur.Paused)
	assert.EqualValues(t, 85, cur.Volume)
	assert.EqualValues(t, 36, cur.ProgressPercent)
	assert.EqualValues(t, 5, cur.Index)
	assert.EqualValues(t, 23, cur.Total)
}

func TestQueueMovesSongAfterCurrent(t *testing.T) {
	playlist := strings.Join([]string{
		"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10",
	}, "\n")

	m, calls := scripted(t, map[string]string{
		"add http://example.com/song": "",
		"playlist -f %title%":         playlist,
		"status":                      statusPlaying,
		"move 10 6":                   "",
		"current -f %title%":          "Some Song Title",
	})

	summary, err := m.Queue(context.Background(), "http://example.com/song", false)
	require.NoError(t, err)
	assert.EqualValues(t, 10, summary.From)
	assert.EqualValues(t, 6, summary.MovedTo)
	assert.Equal(t, "Some Song Title", summary.Current)
	assert.Contains(t, *calls, "move 10 6")
}

func TestQueueBySearch(t *testing.T) {
	m, calls := scripted(t, map[string]string{
		"searchadd any daft punk": "",
		"playlist -f %title%":     "only song",
		"status":                  statusPaused,
		"current -f %title%":      "only song",
	})

	// Queue of length 1 with current at index 2 clamps the target.
	_, err := m.Queue(context.Background(), "daft punk", true)
	require.NoError(t, err)
	assert.Equal(t, "searchadd any daft punk", (*calls)[0])
}

func TestNow(t *testing.T) {
	playlist := strings.Join([]string{"s1", "s2", "s3", "s4", "s5", "s6", "s7"}, "\n")

	m, _ := scripted(t, map[string]string{
		"playlist -f %title%": playlist,
		"status":              statusPlaying, // index 5
	})

	two := uint(2)
	now, err := m.Now(context.Background(), &two)
	require.NoError(t, err)
	assert.Equal(t, []string{"s3", "s4"}, now.Before)
	assert.Equal(t, "s5", now.Current)
	assert.Equal(t, []string{"s6", "s7"}, now.After)
}

func TestNowNothingPlaying(t *testing.T) {
	m, _ := scripted(t, map[string]string{
		"playlist -f %title%": "s1\ns2",
		"status":              "volume: 85%   repeat: off",
	})

	_, err := m.Now(context.Background(), nil)
	assert.Error(t, err)
}

func TestRunErrorPropagates(t *testing.T) {
	m := NewMPC(zaptest.NewLogger(t))
	m.run = func(context.Context, ...string) (string, error) {
		return "", errors.New("mpd not running")
	}

	_, err := m.Next(context.Background())
	assert.ErrorContains(t, err, "mpd not running")
}
