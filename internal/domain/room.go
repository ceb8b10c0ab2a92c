package domain

import "time"

// Role is a connection's position inside a room.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleFollower:
		return "follower"
	default:
		return "none"
	}
}

// PlaybackState is the last playback command a host issued.
type PlaybackState struct {
	IsPlaying       bool      `json:"isPlaying"`
	PositionSeconds float64   `json:"positionSeconds"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Apply folds a playback command into the state. A nil position keeps the
// previous one.
func (p PlaybackState) Apply(action string, position *float64, now time.Time) PlaybackState {
	switch action {
	case ActionPlay:
		p.IsPlaying = true
	case ActionPause:
		p.IsPlaying = false
	}
	if position != nil {
		p.PositionSeconds = *position
	}
	p.UpdatedAt = now
	return p
}

// MediaMeta describes the media announced by the host.
type MediaMeta struct {
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType,omitempty"`
}

// RoomInfo is the read-only view of a room served over the HTTP API.
type RoomInfo struct {
	ID        string         `json:"id"`
	HostID    string         `json:"hostId"`
	Members   int            `json:"members"`
	Followers []string       `json:"followers"`
	Playback  *PlaybackState `json:"playback,omitempty"`
	Media     *MediaMeta     `json:"media,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Connection is what the registry and router need from a live client.
type Connection interface {
	ID() string
	Session() *Session
	// Send queues a text frame. It never blocks.
	Send(data []byte) error
	// SendBinary queues a binary frame. It never blocks.
	SendBinary(data []byte) error
	// Ping sends a protocol-level ping control frame.
	Ping() error
	// Close flushes queued frames and closes the socket.
	Close()
	// Terminate closes the socket immediately.
	Terminate()
}
