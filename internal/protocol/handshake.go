package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fleetlink-io/fleetlink/internal/identity"
)

// Syn is the first message on a new persistent connection, sent by the
// agent. The token must verify against the admin role.
type Syn struct {
	Hostname identity.Hostname `json:"hostname"`
	Token    string            `json:"token"`
}

// AckKind discriminates the Ack union.
type AckKind string

const (
	AckOk              AckKind = "Ok"
	AckBadToken        AckKind = "BadToken"
	AckInvalidValue    AckKind = "InvalidValue"
	AckDeserialization AckKind = "DeserializationError"
)

// DeserializationDetail carries what the server expected and what went wrong
// when it could not decode the Syn.
type DeserializationDetail struct {
	ExpectedType string `json:"expected_type"`
	Error        string `json:"error"`
}

// Ack is the server's verdict on a Syn.
//
// Wire forms:
//
//	"Ok"
//	{"BadToken":"..."} | {"InvalidValue":"..."}
//	{"DeserializationError":{"expected_type":"...","error":"..."}}
type Ack struct {
	Kind            AckKind
	Message         string
	Deserialization *DeserializationDetail
}

func Ok() Ack { return Ack{Kind: AckOk} }

func BadToken(msg string) Ack { return Ack{Kind: AckBadToken, Message: msg} }

func InvalidValue(msg string) Ack { return Ack{Kind: AckInvalidValue, Message: msg} }

func DeserializationError(expectedType string, err error) Ack {
	return Ack{
		Kind: AckDeserialization,
		Deserialization: &DeserializationDetail{
			ExpectedType: expectedType,
			Error:        err.Error(),
		},
	}
}

func (a Ack) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case AckOk:
		return json.Marshal("Ok")
	case AckBadToken, AckInvalidValue:
		return json.Marshal(map[string]string{string(a.Kind): a.Message})
	case AckDeserialization:
		return json.Marshal(map[string]*DeserializationDetail{
			"DeserializationError": a.Deserialization,
		})
	default:
		return nil, fmt.Errorf("protocol: unknown ack kind %q", a.Kind)
	}
}

func (a *Ack) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		if plain != "Ok" {
			return fmt.Errorf("protocol: unknown ack %q", plain)
		}
		*a = Ack{Kind: AckOk}
		return nil
	}

	var tagged struct {
		BadToken             *string                `json:"BadToken"`
		InvalidValue         *string                `json:"InvalidValue"`
		DeserializationError *DeserializationDetail `json:"DeserializationError"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("protocol: malformed ack: %w", err)
	}
	switch {
	case tagged.BadToken != nil:
		*a = Ack{Kind: AckBadToken, Message: *tagged.BadToken}
	case tagged.InvalidValue != nil:
		*a = Ack{Kind: AckInvalidValue, Message: *tagged.InvalidValue}
	case tagged.DeserializationError != nil:
		*a = Ack{Kind: AckDeserialization, Deserialization: tagged.DeserializationError}
	default:
		return fmt.Errorf("protocol: malformed ack: %s", data)
	}
	return nil
}
