package protocol

import (
	"encoding/json"
	"fmt"
)

// SuccessKind discriminates the SuccessfulResponse union.
type SuccessKind string

const (
	RespUnit         SuccessKind = "Unit"
	RespVersion      SuccessKind = "Version"
	RespTitle        SuccessKind = "Title"
	RespPlayState    SuccessKind = "PlayState"
	RespVolume       SuccessKind = "Volume"
	RespCurrent      SuccessKind = "Current"
	RespQueueSummary SuccessKind = "QueueSummary"
	RespNow          SuccessKind = "Now"
)

// CurrentSnapshot describes the currently playing song.
type CurrentSnapshot struct {
	Title           string  `json:"title"`
	Paused          bool    `json:"paused"`
	Volume          int32   `json:"volume"`
	ProgressPercent float64 `json:"progress_percent"`
	Index           uint    `json:"index"`
	Total           uint    `json:"total"`
}

// QueueSummary reports where a queued song landed relative to the current one.
type QueueSummary struct {
	From    uint   `json:"from"`
	MovedTo uint   `json:"moved_to"`
	Current string `json:"current"`
}

// NowPlaying is a window of queue entries around the current song.
type NowPlaying struct {
	Before  []string `json:"before"`
	Current string   `json:"current"`
	After   []string `json:"after"`
}

// SuccessfulResponse is the agent's answer to a successfully executed
// command.
//
// Wire forms:
//
//	"Unit"
//	{"Version":"v1.2.3"}
//	{"Title":{"title":"..."}}
//	{"PlayState":{"paused":true}}
//	{"Volume":{"volume":85}}
//	{"Current":{"current":{...}}}
//	{"QueueSummary":{"from":17,"moved_to":3,"current":"..."}}
//	{"Now":{"before":[...],"current":"...","after":[...]}}
type SuccessfulResponse struct {
	Kind    SuccessKind
	Version string
	Title   string
	Paused  bool
	Volume  int32
	Current *CurrentSnapshot
	Queue   *QueueSummary
	Now     *NowPlaying
}

func UnitResponse() SuccessfulResponse { return SuccessfulResponse{Kind: RespUnit} }

func VersionResponse(v string) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespVersion, Version: v}
}

func TitleResponse(title string) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespTitle, Title: title}
}

func PlayStateResponse(paused bool) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespPlayState, Paused: paused}
}

func VolumeResponse(volume int32) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespVolume, Volume: volume}
}

func CurrentResponse(cur CurrentSnapshot) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespCurrent, Current: &cur}
}

func QueueSummaryResponse(s QueueSummary) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespQueueSummary, Queue: &s}
}

func NowResponse(n NowPlaying) SuccessfulResponse {
	return SuccessfulResponse{Kind: RespNow, Now: &n}
}

func (s SuccessfulResponse) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case RespUnit:
		return json.Marshal("Unit")
	case RespVersion:
		return json.Marshal(map[string]string{"Version": s.Version})
	case RespTitle:
		return json.Marshal(map[string]map[string]string{"Title": {"title": s.Title}})
	case RespPlayState:
		return json.Marshal(map[string]map[string]bool{"PlayState": {"paused": s.Paused}})
	case RespVolume:
		return json.Marshal(map[string]map[string]int32{"Volume": {"volume": s.Volume}})
	case RespCurrent:
		return json.Marshal(map[string]map[string]*CurrentSnapshot{"Current": {"current": s.Current}})
	case RespQueueSummary:
		return json.Marshal(map[string]*QueueSummary{"QueueSummary": s.Queue})
	case RespNow:
		return json.Marshal(map[string]*NowPlaying{"Now": s.Now})
	default:
		return nil, fmt.Errorf("protocol: unknown response kind %q", s.Kind)
	}
}

func (s *SuccessfulResponse) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		if plain != "Unit" {
			return fmt.Errorf("protocol: unknown response %q", plain)
		}
		*s = SuccessfulResponse{Kind: RespUnit}
		return nil
	}

	var tagged struct {
		Version   *string `json:"Version"`
		Title     *struct {
			Title string `json:"title"`
		} `json:"Title"`
		PlayState *struct {
			Paused bool `json:"paused"`
		} `json:"PlayState"`
		Volume *struct {
			Volume int32 `json:"volume"`
		} `json:"Volume"`
		Current *struct {
			Current CurrentSnapshot `json:"current"`
		} `json:"Current"`
		QueueSummary *QueueSummary `json:"QueueSummary"`
		Now          *NowPlaying   `json:"Now"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("protocol: malformed response: %w", err)
	}
	switch {
	case tagged.Version != nil:
		*s = SuccessfulResponse{Kind: RespVersion, Version: *tagged.Version}
	case tagged.Title != nil:
		*s = SuccessfulResponse{Kind: RespTitle, Title: tagged.Title.Title}
	case tagged.PlayState != nil:
		*s = SuccessfulResponse{Kind: RespPlayState, Paused: tagged.PlayState.Paused}
	case tagged.Volume != nil:
		*s = SuccessfulResponse{Kind: RespVolume, Volume: tagged.Volume.Volume}
	case tagged.Current != nil:
		cur := tagged.Current.Current
		*s = SuccessfulResponse{Kind: RespCurrent, Current: &cur}
	case tagged.QueueSummary != nil:
		*s = SuccessfulResponse{Kind: RespQueueSummary, Queue: tagged.QueueSummary}
	case tagged.Now != nil:
		*s = SuccessfulResponse{Kind: RespNow, Now: tagged.Now}
	default:
		return fmt.Errorf("protocol: malformed response: %s", data)
	}
	return nil
}

// ErrorKind discriminates the ErrorResponse union.
type ErrorKind string

const (
	ErrIo                   ErrorKind = "IoError"
	ErrDeserializingCommand ErrorKind = "DeserializingCommand"
	ErrForwarded            ErrorKind = "ForwardedError"
	ErrRelay                ErrorKind = "RelayError"
	ErrRequestFailed        ErrorKind = "RequestFailed"
	ErrHTTP                 ErrorKind = "HttpError"
	ErrNetwork              ErrorKind = "NetworkError"
)

// ErrorResponse is the agent- or relay-originated failure answer to a
// command. All variants carry a message; HttpError also carries the upstream
// status code.
type ErrorResponse struct {
	Kind    ErrorKind
	Message string
	Status  int
}

func NewErrorResponse(kind ErrorKind, message string) ErrorResponse {
	return ErrorResponse{Kind: kind, Message: message}
}

func HTTPErrorResponse(status int, message string) ErrorResponse {
	return ErrorResponse{Kind: ErrHTTP, Status: status, Message: message}
}

func (e ErrorResponse) MarshalJSON() ([]byte, error) {
	if e.Kind == ErrHTTP {
		return json.Marshal(map[string]map[string]any{
			"HttpError": {"status": e.Status, "message": e.Message},
		})
	}
	return json.Marshal(map[string]string{string(e.Kind): e.Message})
}

func (e *ErrorResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: malformed error response: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("protocol: malformed error response: %s", data)
	}
	for key, val := range raw {
		switch ErrorKind(key) {
		case ErrHTTP:
			var payload struct {
				Status  int    `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(val, &payload); err != nil {
				return fmt.Errorf("protocol: malformed HttpError: %w", err)
			}
			*e = ErrorResponse{Kind: ErrHTTP, Status: payload.Status, Message: payload.Message}
		case ErrIo, ErrDeserializingCommand, ErrForwarded, ErrRelay, ErrRequestFailed, ErrNetwork:
			var msg string
			if err := json.Unmarshal(val, &msg); err != nil {
				return fmt.Errorf("protocol: malformed %s: %w", key, err)
			}
			*e = ErrorResponse{Kind: ErrorKind(key), Message: msg}
		default:
			return fmt.Errorf("protocol: unknown error kind %q", key)
		}
	}
	return nil
}

// Response is the agent → server answer to a relayed command: exactly one of
// Ok or Err.
//
// Wire form: {"Ok":...} | {"Err":...}
type Response struct {
	Ok  *SuccessfulResponse
	Err *ErrorResponse
}

func OkResponse(s SuccessfulResponse) Response { return Response{Ok: &s} }
func ErrResponse(e ErrorResponse) Response     { return Response{Err: &e} }

func (r Response) MarshalJSON() ([]byte, error) {
	switch {
	case r.Ok != nil && r.Err == nil:
		return json.Marshal(map[string]*SuccessfulResponse{"Ok": r.Ok})
	case r.Err != nil && r.Ok == nil:
		return json.Marshal(map[string]*ErrorResponse{"Err": r.Err})
	default:
		return nil, fmt.Errorf("protocol: response must be exactly one of Ok or Err")
	}
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Ok  *SuccessfulResponse `json:"Ok"`
		Err *ErrorResponse      `json:"Err"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("protocol: malformed response: %w", err)
	}
	if (tagged.Ok == nil) == (tagged.Err == nil) {
		return fmt.Errorf("protocol: response must be exactly one of Ok or Err: %s", data)
	}
	r.Ok, r.Err = tagged.Ok, tagged.Err
	return nil
}
