package protocol

import (
	"encoding/json"
	"fmt"
)

// MusicCmd addresses a music operation at a specific local player instance.
// Index selects among multiple running players, Username selects a per-user
// player socket; both are optional and interpreted entirely on the agent.
type MusicCmd struct {
	Index    *uint        `json:"index"`
	Username *string      `json:"username"`
	Command  MusicCmdKind `json:"command"`
}

// MusicOp discriminates the MusicCmdKind union.
type MusicOp string

const (
	MusicFrwd         MusicOp = "Frwd"
	MusicBack         MusicOp = "Back"
	MusicCyclePause   MusicOp = "CyclePause"
	MusicCurrent      MusicOp = "Current"
	MusicChangeVolume MusicOp = "ChangeVolume"
	MusicQueue        MusicOp = "Queue"
	MusicNow          MusicOp = "Now"
)

// ChangeVolumeArgs adjusts the player volume by a signed amount.
type ChangeVolumeArgs struct {
	Amount int32 `json:"amount"`
}

// QueueArgs queues a song by URL or, when Search is set, by library search.
type QueueArgs struct {
	Query  string `json:"query"`
	Search bool   `json:"search"`
}

// NowArgs requests a window of Amount songs around the current one.
type NowArgs struct {
	Amount *uint `json:"amount"`
}

// MusicCmdKind is the restricted command set a delegated music session may
// forward.
//
// Wire forms:
//
//	"Frwd" | "Back" | "CyclePause" | "Current"
//	{"ChangeVolume":{"amount":-5}}
//	{"Queue":{"query":"...","search":true}}
//	{"Now":{"amount":10}}
type MusicCmdKind struct {
	Op           MusicOp
	ChangeVolume *ChangeVolumeArgs
	Queue        *QueueArgs
	Now          *NowArgs
}

func Frwd() MusicCmdKind       { return MusicCmdKind{Op: MusicFrwd} }
func Back() MusicCmdKind       { return MusicCmdKind{Op: MusicBack} }
func CyclePause() MusicCmdKind { return MusicCmdKind{Op: MusicCyclePause} }
func Current() MusicCmdKind    { return MusicCmdKind{Op: MusicCurrent} }

func ChangeVolume(amount int32) MusicCmdKind {
	return MusicCmdKind{Op: MusicChangeVolume, ChangeVolume: &ChangeVolumeArgs{Amount: amount}}
}

func Queue(query string, search bool) MusicCmdKind {
	return MusicCmdKind{Op: MusicQueue, Queue: &QueueArgs{Query: query, Search: search}}
}

func Now(amount *uint) MusicCmdKind {
	return MusicCmdKind{Op: MusicNow, Now: &NowArgs{Amount: amount}}
}

func (k MusicCmdKind) MarshalJSON() ([]byte, error) {
	switch k.Op {
	case MusicFrwd, MusicBack, MusicCyclePause, MusicCurrent:
		return json.Marshal(string(k.Op))
	case MusicChangeVolume:
		return json.Marshal(map[string]*ChangeVolumeArgs{"ChangeVolume": k.ChangeVolume})
	case MusicQueue:
		return json.Marshal(map[string]*QueueArgs{"Queue": k.Queue})
	case MusicNow:
		return json.Marshal(map[string]*NowArgs{"Now": k.Now})
	default:
		return nil, fmt.Errorf("protocol: unknown music op %q", k.Op)
	}
}

func (k *MusicCmdKind) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		switch MusicOp(plain) {
		case MusicFrwd, MusicBack, MusicCyclePause, MusicCurrent:
			*k = MusicCmdKind{Op: MusicOp(plain)}
			return nil
		default:
			return fmt.Errorf("protocol: unknown music command %q", plain)
		}
	}

	var tagged struct {
		ChangeVolume *ChangeVolumeArgs `json:"ChangeVolume"`
		Queue        *QueueArgs        `json:"Queue"`
		Now          *NowArgs          `json:"Now"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("protocol: malformed music command: %w", err)
	}
	switch {
	case tagged.ChangeVolume != nil:
		*k = MusicCmdKind{Op: MusicChangeVolume, ChangeVolume: tagged.ChangeVolume}
	case tagged.Queue != nil:
		*k = MusicCmdKind{Op: MusicQueue, Queue: tagged.Queue}
	case tagged.Now != nil:
		*k = MusicCmdKind{Op: MusicNow, Now: tagged.Now}
	default:
		return fmt.Errorf("protocol: malformed music command: %s", data)
	}
	return nil
}
