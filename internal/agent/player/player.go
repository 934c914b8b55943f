// Package player executes the delegated music command set against the local
// MPD instance through the mpc command-line client.
package player

import (
	"context"

	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// Player is the agent-side music surface. Each method maps to one operation
// of the delegated command set and returns the payload its response carries.
type Player interface {
	// Next skips forward and returns the new current title.
	Next(ctx context.Context) (string, error)

	// Prev skips backward and returns the new current title.
	Prev(ctx context.Context) (string, error)

	// CyclePause toggles playback and reports whether the player is now
	// paused.
	CyclePause(ctx context.Context) (bool, error)

	// ChangeVolume adjusts the volume by a signed amount and returns the
	// resulting level.
	ChangeVolume(ctx context.Context, amount int32) (int32, error)

	// Current describes the currently playing song.
	Current(ctx context.Context) (protocol.CurrentSnapshot, error)

	// Queue adds a song by URL, or by library search when search is set,
	// and moves it to play right after the current one.
	Queue(ctx context.Context, query string, search bool) (protocol.QueueSummary, error)

	// Now returns a window of queue titles around the current song. amount
	// bounds the window size; nil means the default.
	Now(ctx context.Context, amount *uint) (protocol.NowPlaying, error)
}
