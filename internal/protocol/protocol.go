package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Close codes sent on both channels. 1007 and 1011 are the RFC 6455 codes
// for invalid payload data and internal error.
const (
	CloseMalformed         = 1007
	CloseInternal          = 1011
	CloseInvalidCredential = 4001
	CloseForbidden         = 4003
	CloseNotFound          = 4004
	CloseSuperseded        = 4009
)

type Kind string

const (
	KindState      Kind = "state"
	KindLog        Kind = "log"
	KindLogHistory Kind = "log_history"
	KindCommand    Kind = "command"
	KindCommandAck Kind = "command_ack"
	KindError      Kind = "error"
	// KindUnknown tags inbound messages whose type this relay does not know.
	// They are tolerated so peers can add message types ahead of the relay.
	KindUnknown Kind = "unknown"
)

var ErrMalformed = errors.New("protocol: malformed message")

var emptyObject = json.RawMessage(`{}`)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InstanceMessage is one inbound frame on the instance channel.
type InstanceMessage struct {
	Kind Kind
	Type string
	Data json.RawMessage
}

// DecodeInstanceMessage parses {"type": "state"|"log", "data": {...}}.
// A missing data field decodes as an empty object. State payloads must be
// JSON objects; log payloads are forwarded verbatim.
func DecodeInstanceMessage(raw []byte) (InstanceMessage, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return InstanceMessage{}, err
	}
	msg := InstanceMessage{Type: env.Type, Data: env.Data}
	switch Kind(env.Type) {
	case KindState:
		if !isObject(env.Data) {
			return InstanceMessage{}, fmt.Errorf("%w: state data must be an object", ErrMalformed)
		}
		msg.Kind = KindState
	case KindLog:
		msg.Kind = KindLog
	default:
		msg.Kind = KindUnknown
	}
	return msg, nil
}

// Command is a control instruction relayed from a browser to an instance.
// It is also the exact outbound shape on the instance channel.
type Command struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// BrowserMessage is one inbound frame on the browser channel.
type BrowserMessage struct {
	Kind    Kind
	Type    string
	Command Command
}

func DecodeBrowserMessage(raw []byte) (BrowserMessage, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return BrowserMessage{}, err
	}
	msg := BrowserMessage{Kind: KindUnknown, Type: env.Type}
	if Kind(env.Type) != KindCommand {
		return msg, nil
	}
	var cmd Command
	if err := json.Unmarshal(env.Data, &cmd); err != nil {
		return BrowserMessage{}, fmt.Errorf("%w: command data: %v", ErrMalformed, err)
	}
	cmd.Action = strings.TrimSpace(cmd.Action)
	if isNull(cmd.Payload) {
		cmd.Payload = emptyObject
	}
	msg.Kind = KindCommand
	msg.Command = cmd
	return msg, nil
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if isNull(env.Data) {
		env.Data = emptyObject
	}
	return env, nil
}

// Outbound is a message sent to a browser.
type Outbound struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

type CommandAck struct {
	Delivered bool `json:"delivered"`
}

type ErrorBody struct {
	Message string `json:"message"`
}

func StateMessage(snapshot json.RawMessage) Outbound {
	return Outbound{Type: KindState, Data: snapshot}
}

func LogMessage(entry json.RawMessage) Outbound {
	return Outbound{Type: KindLog, Data: entry}
}

// LogHistoryMessage carries buffered log entries, oldest first.
func LogHistoryMessage(entries []json.RawMessage) Outbound {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	return Outbound{Type: KindLogHistory, Data: entries}
}

func CommandAckMessage(delivered bool) Outbound {
	return Outbound{Type: KindCommandAck, Data: CommandAck{Delivered: delivered}}
}

func ErrorMessage(message string) Outbound {
	return Outbound{Type: KindError, Data: ErrorBody{Message: message}}
}

func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return body, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
