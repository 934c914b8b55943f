// Package protocol defines the wire types exchanged between the server and
// its agents, and the newline-delimited JSON framing they travel in.
//
// Every message on the persistent link is one JSON document followed by a
// single '\n' byte. The unions (Command, Response, Ack) use externally-tagged
// encoding: payload-free variants are bare strings, payload-carrying variants
// are single-key objects. The encoding is part of the protocol contract and
// covered by tests; changing it breaks deployed agents.
package protocol

import (
	"encoding/json"
	"fmt"
)

// CommandKind discriminates the Command union.
type CommandKind string

const (
	CmdHeartbeat CommandKind = "Heartbeat"
	CmdReload    CommandKind = "Reload"
	CmdVersion   CommandKind = "Version"
	CmdMusic     CommandKind = "Music"
)

// Command is a server → agent instruction relayed over the persistent link.
//
// Wire forms:
//
//	"Heartbeat" | "Reload" | "Version"
//	{"Music":{"index":null,"username":null,"command":...}}
type Command struct {
	Kind  CommandKind
	Music *MusicCmd
}

func Heartbeat() Command { return Command{Kind: CmdHeartbeat} }
func Reload() Command    { return Command{Kind: CmdReload} }
func Version() Command   { return Command{Kind: CmdVersion} }

func Music(cmd MusicCmd) Command {
	return Command{Kind: CmdMusic, Music: &cmd}
}

// Key returns a stable textual identity for the command, used by the
// request coalescer to collapse structurally equal commands.
func (c Command) Key() string {
	data, err := json.Marshal(c)
	if err != nil {
		// Command marshalling is total; this branch exists for the error
		// interface only.
		return fmt.Sprintf("!%v", err)
	}
	return string(data)
}

func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CmdHeartbeat, CmdReload, CmdVersion:
		return json.Marshal(string(c.Kind))
	case CmdMusic:
		if c.Music == nil {
			return nil, fmt.Errorf("protocol: Music command without payload")
		}
		return json.Marshal(map[string]*MusicCmd{"Music": c.Music})
	default:
		return nil, fmt.Errorf("protocol: unknown command kind %q", c.Kind)
	}
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		switch CommandKind(plain) {
		case CmdHeartbeat, CmdReload, CmdVersion:
			*c = Command{Kind: CommandKind(plain)}
			return nil
		default:
			return fmt.Errorf("protocol: unknown command %q", plain)
		}
	}

	var tagged struct {
		Music *MusicCmd `json:"Music"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("protocol: malformed command: %w", err)
	}
	if tagged.Music == nil {
		return fmt.Errorf("protocol: malformed command: %s", data)
	}
	*c = Command{Kind: CmdMusic, Music: tagged.Music}
	return nil
}
