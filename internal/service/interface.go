package service

import (
	"context"

	"github.com/me-niyas-ali/stream/internal/domain"
)

// RelayService applies client messages to the room registry and fans the
// results out to room members.
type RelayService interface {
	// HandleJoin attaches the client to roomID, leaving its current room first.
	HandleJoin(ctx context.Context, c domain.Connection, roomID string) error

	// HandleCreateRoom opens a room under a generated id with the client as host.
	HandleCreateRoom(ctx context.Context, c domain.Connection) error

	// HandleLeave detaches the client from its room.
	HandleLeave(ctx context.Context, c domain.Connection) error

	// HandleSignal relays a negotiation payload inside the client's room.
	HandleSignal(ctx context.Context, c domain.Connection, msg domain.SignalMessage) error

	// HandlePlayback records and relays a host playback command.
	HandlePlayback(ctx context.Context, c domain.Connection, msg domain.PlaybackMessage) error

	// HandleMediaMeta records and relays a host media announcement.
	HandleMediaMeta(ctx context.Context, c domain.Connection, msg domain.MediaMetaMessage) error

	// HandleChunk relays a binary media chunk from the host to its followers.
	HandleChunk(ctx context.Context, c domain.Connection, data []byte) error

	// HandlePing answers an application-level heartbeat.
	HandlePing(ctx context.Context, c domain.Connection) error

	// HandleDisconnect detaches a client whose connection is gone.
	HandleDisconnect(ctx context.Context, c domain.Connection) error
}

// LifecycleNotifier is told about room lifecycle changes.
type LifecycleNotifier interface {
	RoomCreated(roomID, hostID string)
	HostChanged(roomID, previousID, hostID string, members int)
	RoomClosed(roomID, reason string)
}

type nopNotifier struct{}

func (nopNotifier) RoomCreated(string, string) {}
func (nopNotifier) HostChanged(string, string, string, int) {}
func (nopNotifier) RoomClosed(string, string) {}
