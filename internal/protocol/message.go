// Package protocol defines the typed messages exchanged over a session's
// metadata channel. Every message is one JSON object per channel message:
//
//	{"type": "<type>", "payload": {...}}
//
// Messages are values; nothing in this package mutates a decoded message.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/lanlink/internal/core"
	"github.com/dkeye/lanlink/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeIdentity         Type = "identity"
	TypeLan              Type = "lan"
	TypeMemberJoin       Type = "member-join"
	TypeMemberJoinOffer  Type = "member-join-offer"
	TypeMemberJoinAnswer Type = "member-join-answer"
	TypeHeartbeatPing    Type = "heartbeat-ping"
	TypeHeartbeatPong    Type = "heartbeat-pong"
	TypeManifestRequest  Type = "manifest-request"
	TypeManifest         Type = "manifest"
)

// MaxMessageSize bounds one encoded message; it is also the read buffer
// size on the receiving side.
const MaxMessageSize = 64 << 10

var (
	ErrMissingType = errors.New("message has no type")
	ErrTooLarge    = errors.New("message exceeds size limit")
)

// Message is the envelope carried on the metadata channel.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Identity struct {
	RemoteHostID domain.HostID `json:"remoteHostId"`
	Name         string        `json:"name"`
	Avatar       string        `json:"avatar"`
}

type Lan struct {
	Motd string `json:"motd"`
	Port int    `json:"port"`
}

type MemberJoin struct {
	ID domain.HostID `json:"id"`
}

type MemberJoinOffer struct {
	From     domain.HostID             `json:"from"`
	To       domain.HostID             `json:"to"`
	Session  core.SessionID            `json:"session"`
	Offer    webrtc.SessionDescription `json:"offer"`
	InitTime int64                     `json:"initTime"`
}

type MemberJoinAnswer struct {
	From       domain.HostID             `json:"from"`
	To         domain.HostID             `json:"to"`
	Session    core.SessionID            `json:"session"`
	Answer     webrtc.SessionDescription `json:"answer"`
	InitTime   int64                     `json:"initTime"`
	AnswerTime int64                     `json:"answerTime"`
}

// Heartbeat is the payload of both heartbeat-ping and heartbeat-pong.
type Heartbeat struct {
	Time int64 `json:"time"`
}

type ManifestRequest struct{}

type Manifest struct {
	Manifest json.RawMessage `json:"manifest"`
}

// New builds a message with payload marshalled to JSON.
func New(t Type, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: raw}, nil
}

// Encode returns the wire form of m.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	if m.Payload == nil {
		m.Payload = json.RawMessage("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%s is %d bytes: %w", m.Type, len(data), ErrTooLarge)
	}
	return data, nil
}

// Decode parses one wire message. The payload is left raw; handlers decode
// it into the struct for their type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, ErrMissingType
	}
	return m, nil
}

// DecodePayload unmarshals raw into v, treating an absent payload as empty.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// NowMillis is the timestamp unit used by heartbeat and join messages.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
