package registry

import (
	"time"

	"github.com/me-niyas-ali/stream/internal/domain"
)

// Snapshot is a copy of a room's state taken under its lock. It is safe to
// read and broadcast from after the lock is released.
type Snapshot struct {
	ID        string
	Host      domain.Connection
	Followers []domain.Connection
	Playback  *domain.PlaybackState
	Media     *domain.MediaMeta
	CreatedAt time.Time
}

// Members returns the number of connections in the room.
func (s Snapshot) Members() int {
	n := len(s.Followers)
	if s.Host != nil {
		n++
	}
	return n
}

// Member finds a connection of the room by id.
func (s Snapshot) Member(id string) (domain.Connection, bool) {
	if s.Host != nil && s.Host.ID() == id {
		return s.Host, true
	}
	for _, f := range s.Followers {
		if f.ID() == id {
			return f, true
		}
	}
	return nil, false
}

// Connections returns the host (if any) followed by the followers.
func (s Snapshot) Connections() []domain.Connection {
	out := make([]domain.Connection, 0, s.Members())
	if s.Host != nil {
		out = append(out, s.Host)
	}
	return append(out, s.Followers...)
}

// Info converts the snapshot to its API representation.
func (s Snapshot) Info() domain.RoomInfo {
	info := domain.RoomInfo{
		ID:        s.ID,
		Members:   s.Members(),
		Followers: make([]string, 0, len(s.Followers)),
		Playback:  s.Playback,
		Media:     s.Media,
		CreatedAt: s.CreatedAt,
	}
	if s.Host != nil {
		info.HostID = s.Host.ID()
	}
	for _, f := range s.Followers {
		info.Followers = append(info.Followers, f.ID())
	}
	return info
}

// AttachResult describes the outcome of Attach or Create.
type AttachResult struct {
	Room Snapshot
	Role domain.Role
	// Created is set when the caller opened the room.
	Created bool
	// Rejoined is set when the caller was already a member.
	Rejoined bool
}

// Room close reasons.
const (
	ReasonEmpty    = "empty"
	ReasonHostLeft = "host-left"
)

// Effect describes what a detach changed. The caller delivers the
// corresponding notifications after the room lock is released.
type Effect struct {
	RoomID   string
	Left     domain.Connection
	LeftRole domain.Role

	// Remaining is the room after the detach. It has no members when Closed.
	Remaining Snapshot

	// Promoted is the follower that became host, if any.
	Promoted domain.Connection

	// Evicted lists followers removed because the room ended with its host.
	Evicted []domain.Connection

	Closed bool
	Reason string
}

// Empty reports whether the detach was a no-op.
func (e Effect) Empty() bool {
	return e.Left == nil
}
