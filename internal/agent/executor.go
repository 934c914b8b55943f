package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fleetlink-io/fleetlink/internal/agent/player"
	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// PostAction runs after the command's reply has been written to the wire.
// Used by Reload, which must deliver its Unit reply before re-execing.
type PostAction func()

// Executor runs relayed commands on the local machine.
type Executor struct {
	version string
	player  player.Player
	restart func() error
	logger  *zap.Logger
}

// NewExecutor creates an Executor. player may be nil on machines without a
// local MPD; music commands then fail with RequestFailed.
func NewExecutor(version string, p player.Player, logger *zap.Logger) *Executor {
	return &Executor{
		version: version,
		player:  p,
		restart: Restart,
		logger:  logger.Named("executor"),
	}
}

// Execute runs cmd and returns its response plus an optional action to run
// after the reply is on the wire.
func (e *Executor) Execute(ctx context.Context, cmd protocol.Command) (protocol.Response, PostAction) {
	switch cmd.Kind {
	case protocol.CmdHeartbeat:
		return protocol.OkResponse(protocol.UnitResponse()), nil

	case protocol.CmdVersion:
		return protocol.OkResponse(protocol.VersionResponse(e.version)), nil

	case protocol.CmdReload:
		// The reply must reach the server before the process image is
		// replaced.
		return protocol.OkResponse(protocol.UnitResponse()), func() {
			e.logger.Info("reloading on request")
			if err := e.restart(); err != nil {
				e.logger.Error("reload failed", zap.Error(err))
			}
		}

	case protocol.CmdMusic:
		if cmd.Music == nil {
			return errResponse(protocol.ErrDeserializingCommand, "music command without payload"), nil
		}
		return e.music(ctx, *cmd.Music), nil

	default:
		return errResponse(protocol.ErrDeserializingCommand, fmt.Sprintf("unknown command %q", cmd.Kind)), nil
	}
}

func (e *Executor) music(ctx context.Context, cmd protocol.MusicCmd) protocol.Response {
	if e.player == nil {
		return errResponse(protocol.ErrRequestFailed, "no music player configured")
	}

	switch cmd.Command.Op {
	case protocol.MusicFrwd:
		title, err := e.player.Next(ctx)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.TitleResponse(title))

	case protocol.MusicBack:
		title, err := e.player.Prev(ctx)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.TitleResponse(title))

	case protocol.MusicCyclePause:
		paused, err := e.player.CyclePause(ctx)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.PlayStateResponse(paused))

	case protocol.MusicChangeVolume:
		if cmd.Command.ChangeVolume == nil {
			return errResponse(protocol.ErrDeserializingCommand, "ChangeVolume without arguments")
		}
		volume, err := e.player.ChangeVolume(ctx, cmd.Command.ChangeVolume.Amount)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.VolumeResponse(volume))

	case protocol.MusicCurrent:
		current, err := e.player.Current(ctx)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.CurrentResponse(current))

	case protocol.MusicQueue:
		if cmd.Command.Queue == nil {
			return errResponse(protocol.ErrDeserializingCommand, "Queue without arguments")
		}
		summary, err := e.player.Queue(ctx, cmd.Command.Queue.Query, cmd.Command.Queue.Search)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.QueueSummaryResponse(summary))

	case protocol.MusicNow:
		var amount *uint
		if cmd.Command.Now != nil {
			amount = cmd.Command.Now.Amount
		}
		now, err := e.player.Now(ctx, amount)
		if err != nil {
			return playerError(err)
		}
		return protocol.OkResponse(protocol.NowResponse(now))

	default:
		return errResponse(protocol.ErrDeserializingCommand, fmt.Sprintf("unknown music operation %q", cmd.Command.Op))
	}
}

func errResponse(kind protocol.ErrorKind, msg string) protocol.Response {
	return protocol.ErrResponse(protocol.NewErrorResponse(kind, msg))
}

func playerError(err error) protocol.Response {
	return errResponse(protocol.ErrRequestFailed, err.Error())
}
