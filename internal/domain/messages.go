package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
)

// WebSocket message types from client.
const (
	MsgTypeJoin       = "join"
	MsgTypeCreateRoom = "create-room"
	MsgTypeLeave      = "leave"
	MsgTypeSignal     = "signal"
	MsgTypePlayback   = "playback"
	MsgTypeMediaMeta  = "media-meta"
	MsgTypePing       = "ping"
)

// WebSocket message types to client. Signal, playback and media-meta are
// relayed under their inbound type.
const (
	MsgTypeInit           = "init"
	MsgTypeRoomCreated    = "room-created"
	MsgTypeClients        = "clients"
	MsgTypeUserJoined     = "user-joined"
	MsgTypeReadyToPlay    = "ready-to-play"
	MsgTypeHostReassigned = "host-reassigned"
	MsgTypeHostChanged    = "host-changed"
	MsgTypeRoomClosed     = "room-closed"
	MsgTypeLeftRoom       = "left-room"
	MsgTypePong           = "pong"
	MsgTypeError          = "error"
)

// Playback actions.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionSeek  = "seek"
)

// Error codes
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeRoomUnavailable = "ROOM_UNAVAILABLE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Decode errors. Every DecodeInbound error wraps exactly one of these.
var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownType       = errors.New("unknown message type")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidField      = errors.New("invalid field")
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidRoomID reports whether id may name a room.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Inbound is a decoded client message. The set of implementations is closed.
type Inbound interface {
	inbound()
}

// Client -> Server messages

// JoinMessage attaches the connection to a room, creating it if needed.
type JoinMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// CreateRoomMessage asks the server for a fresh room with a generated id.
type CreateRoomMessage struct {
	Type string `json:"type"`
}

// LeaveMessage detaches the connection from its room.
type LeaveMessage struct {
	Type string `json:"type"`
}

// SignalMessage carries an opaque WebRTC negotiation payload. To is optional.
type SignalMessage struct {
	Type   string          `json:"type"`
	To     string          `json:"to,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// PlaybackMessage is a host playback command. It is relayed to followers
// unchanged.
type PlaybackMessage struct {
	Type   string   `json:"type"`
	Action string   `json:"action"`
	Time   *float64 `json:"time,omitempty"`
}

// MediaMetaMessage announces the media the host is about to stream.
type MediaMetaMessage struct {
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

// PingMessage is the application-level heartbeat.
type PingMessage struct {
	Type string `json:"type"`
}

func (JoinMessage) inbound()       {}
func (CreateRoomMessage) inbound() {}
func (LeaveMessage) inbound()      {}
func (SignalMessage) inbound()     {}
func (PlaybackMessage) inbound()   {}
func (MediaMetaMessage) inbound()  {}
func (PingMessage) inbound()       {}

// DecodeInbound parses a text frame into one of the Inbound types. Nothing is
// returned unless the whole envelope is valid.
func DecodeInbound(data []byte) (Inbound, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch base.Type {
	case MsgTypeJoin:
		var m JoinMessage
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Room == "" {
			return nil, fmt.Errorf("%w: room", ErrMissingField)
		}
		if !ValidRoomID(m.Room) {
			return nil, fmt.Errorf("%w: room %q", ErrInvalidField, m.Room)
		}
		return m, nil

	case MsgTypeCreateRoom:
		return CreateRoomMessage{Type: base.Type}, nil

	case MsgTypeLeave:
		return LeaveMessage{Type: base.Type}, nil

	case MsgTypeSignal:
		var m SignalMessage
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if len(m.Signal) == 0 || string(m.Signal) == "null" {
			return nil, fmt.Errorf("%w: signal", ErrMissingField)
		}
		return m, nil

	case MsgTypePlayback:
		var m PlaybackMessage
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if err := m.validate(); err != nil {
			return nil, err
		}
		return m, nil

	case MsgTypeMediaMeta:
		var m MediaMetaMessage
		if err := unmarshal(data, &m); err != nil {
			return nil, err
		}
		if m.Size <= 0 {
			return nil, fmt.Errorf("%w: size must be positive", ErrInvalidField)
		}
		return m, nil

	case MsgTypePing:
		return PingMessage{Type: base.Type}, nil

	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
}

func (m PlaybackMessage) validate() error {
	switch m.Action {
	case ActionPlay, ActionPause:
	case ActionSeek:
		if m.Time == nil {
			return fmt.Errorf("%w: time", ErrMissingField)
		}
	case "":
		return fmt.Errorf("%w: action", ErrMissingField)
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidField, m.Action)
	}
	if m.Time != nil && (math.IsNaN(*m.Time) || math.IsInf(*m.Time, 0) || *m.Time < 0) {
		return fmt.Errorf("%w: time", ErrInvalidField)
	}
	return nil
}

func unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// Server -> Client messages

// InitMessage tells a connection which room it is in and whether it is host.
type InitMessage struct {
	Type     string         `json:"type"`
	ID       string         `json:"id"`
	Room     string         `json:"room"`
	IsHost   bool           `json:"isHost"`
	Clients  int            `json:"clients"`
	Playback *PlaybackState `json:"playback,omitempty"`
	Media    *MediaMeta     `json:"media,omitempty"`
}

// RoomCreatedMessage answers create-room.
type RoomCreatedMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// ClientsMessage carries the current member count of a room.
type ClientsMessage struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// UserJoinedMessage tells the host a follower arrived.
type UserJoinedMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RelayedSignalMessage is a signal payload forwarded to a peer.
type RelayedSignalMessage struct {
	Type   string          `json:"type"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// HostReassignedMessage is sent to a follower that was promoted to host.
type HostReassignedMessage struct {
	Type    string `json:"type"`
	Room    string `json:"room"`
	IsHost  bool   `json:"isHost"`
	Clients int    `json:"clients"`
}

// HostChangedMessage tells the other followers who the new host is.
type HostChangedMessage struct {
	Type string `json:"type"`
	Host string `json:"host"`
}

// RoomClosedMessage is sent to members evicted when a room ends.
type RoomClosedMessage struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

// LeftRoomMessage confirms a leave.
type LeftRoomMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// NoticeMessage is a message with no fields beyond its type.
type NoticeMessage struct {
	Type string `json:"type"`
}

// ErrorMessage is sent when an error occurs.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
