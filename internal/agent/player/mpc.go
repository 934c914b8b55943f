package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// defaultNowWindow is how many titles Now returns around the current song
// when the caller does not say.
const defaultNowWindow = 10

// runner executes one mpc invocation and returns its trimmed stdout.
// Swapped out in tests.
type runner func(ctx context.Context, args ...string) (string, error)

// MPC drives the local MPD instance through the mpc client binary.
type MPC struct {
	run    runner
	logger *zap.Logger
}

// NewMPC creates an MPC player that shells out to the mpc binary on PATH.
func NewMPC(logger *zap.Logger) *MPC {
	return &MPC{
		run:    runMpc,
		logger: logger.Named("player"),
	}
}

func runMpc(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "mpc", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("player: mpc %s: %s", args[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("player: mpc %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (m *MPC) Next(ctx context.Context) (string, error) {
	if _, err := m.run(ctx, "next"); err != nil {
		return "", err
	}
	return m.currentTitle(ctx)
}

func (m *MPC) Prev(ctx context.Context) (string, error) {
	if _, err := m.run(ctx, "prev"); err != nil {
		return "", err
	}
	return m.currentTitle(ctx)
}

func (m *MPC) CyclePause(ctx context.Context) (bool, error) {
	out, err := m.run(ctx, "toggle")
	if err != nil {
		return false, err
	}
	st, err := parseStatus(out)
	if err != nil {
		return false, err
	}
	return st.paused, nil
}

func (m *MPC) ChangeVolume(ctx context.Context, amount int32) (int32, error) {
	delta := fmt.Sprintf("+%d", amount)
	if amount < 0 {
		delta = strconv.Itoa(int(amount))
	}
	if _, err := m.run(ctx, "volume", delta); err != nil {
		return 0, err
	}

	out, err := m.run(ctx, "volume")
	if err != nil {
		return 0, err
	}
	return parseVolume(out)
}

func (m *MPC) Current(ctx context.Context) (protocol.CurrentSnapshot, error) {
	title, err := m.currentTitle(ctx)
	if err != nil {
		return protocol.CurrentSnapshot{}, err
	}

	out, err := m.run(ctx, "status")
	if err != nil {
		return protocol.CurrentSnapshot{}, err
	}
	st, err := parseStatus(out)
	if err != nil {
		return protocol.CurrentSnapshot{}, err
	}

	return protocol.CurrentSnapshot{
		Title:           title,
		Paused:          st.paused,
		Volume:          st.volume,
		ProgressPercent: st.progress,
		Index:           st.index,
		Total:           st.total,
	}, nil
}

func (m *MPC) Queue(ctx context.Context, query string, search bool) (protocol.QueueSummary, error) {
	if search {
		if _, err := m.run(ctx, "searchadd", "any", query); err != nil {
			return protocol.QueueSummary{}, err
		}
	} else {
		if _, err := m.run(ctx, "add", query); err != nil {
			return protocol.QueueSummary{}, err
		}
	}

	total, err := m.playlistLength(ctx)
	if err != nil {
		return protocol.QueueSummary{}, err
	}

	out, err := m.run(ctx, "status")
	if err != nil {
		return protocol.QueueSummary{}, err
	}
	st, err := parseStatus(out)
	if err != nil {
		return protocol.QueueSummary{}, err
	}

	// Move the new song right after the current one so it plays next.
	target := st.index + 1
	if total > target {
		if _, err := m.run(ctx, "move", strconv.FormatUint(uint64(total), 10), strconv.FormatUint(uint64(target), 10)); err != nil {
			return protocol.QueueSummary{}, err
		}
	} else {
		target = total
	}

	current, err := m.currentTitle(ctx)
	if err != nil {
		return protocol.QueueSummary{}, err
	}

	return protocol.QueueSummary{From: total, MovedTo: target, Current: current}, nil
}

func (m *MPC) Now(ctx context.Context, amount *uint) (protocol.NowPlaying, error) {
	window := uint(defaultNowWindow)
	if amount != nil && *amount > 0 {
		window = *amount
	}

	out, err := m.run(ctx, "playlist", "-f", "%title%")
	if err != nil {
		return protocol.NowPlaying{}, err
	}
	titles := splitLines(out)

	st := mpcStatus{}
	if raw, err := m.run(ctx, "status"); err == nil {
		if parsed, perr := parseStatus(raw); perr == nil {
			st = parsed
		} else {
			m.logger.Debug("unparseable status output", zap.Error(perr))
		}
	}
	if st.index == 0 || int(st.index) > len(titles) {
		return protocol.NowPlaying{}, fmt.Errorf("player: nothing playing")
	}

	return windowAround(titles, st.index, window), nil
}

func (m *MPC) currentTitle(ctx context.Context) (string, error) {
	return m.run(ctx, "current", "-f", "%title%")
}

func (m *MPC) playlistLength(ctx context.Context) (uint, error) {
	out, err := m.run(ctx, "playlist", "-f", "%title%")
	if err != nil {
		return 0, err
	}
	return uint(len(splitLines(out))), nil
}

// mpcStatus is the parsed second line of `mpc status` output.
type mpcStatus struct {
	paused   bool
	volume   int32
	progress float64
	index    uint
	total    uint
}

// statusRe matches the play line of mpc status output, e.g.
//
//	[playing] #5/23   1:23/3:45 (36%)
var statusRe = regexp.MustCompile(`\[(playing|paused)\] +#(\d+)/(\d+) +\S+ +\((\d+)%\)`)

// volumeRe matches the settings line, e.g. "volume: 85%   repeat: off ...".
var volumeRe = regexp.MustCompile(`volume: *(\d+)%`)

// parseStatus extracts play state, queue position and volume from full
// `mpc status` output. A stopped player has no play line and is an error:
// every operation that needs status also needs a current song.
func parseStatus(out string) (mpcStatus, error) {
	play := statusRe.FindStringSubmatch(out)
	if play == nil {
		return mpcStatus{}, fmt.Errorf("player: not playing")
	}

	index, _ := strconv.ParseUint(play[2], 10, 32)
	total, _ := strconv.ParseUint(play[3], 10, 32)
	percent, _ := strconv.ParseFloat(play[4], 64)

	st := mpcStatus{
		paused:   play[1] == "paused",
		progress: percent,
		index:    uint(index),
		total:    uint(total),
	}

	if vol := volumeRe.FindStringSubmatch(out); vol != nil {
		v, _ := strconv.ParseInt(vol[1], 10, 32)
		st.volume = int32(v)
	}
	return st, nil
}

func parseVolume(out string) (int32, error) {
	vol := volumeRe.FindStringSubmatch(out)
	if vol == nil {
		return 0, fmt.Errorf("player: unparseable volume output %q", out)
	}
	v, err := strconv.ParseInt(vol[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("player: unparseable volume output %q", out)
	}
	return int32(v), nil
}

// windowAround slices up to window titles before and after the 1-based
// current index.
func windowAround(titles []string, index uint, window uint) protocol.NowPlaying {
	cur := int(index) - 1
	lo := cur - int(window)
	if lo < 0 {
		lo = 0
	}
	hi := cur + int(window) + 1
	if hi > len(titles) {
		hi = len(titles)
	}

	return protocol.NowPlaying{
		Before:  append([]string(nil), titles[lo:cur]...),
		Current: titles[cur],
		After:   append([]string(nil), titles[cur+1:hi]...),
	}
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}
