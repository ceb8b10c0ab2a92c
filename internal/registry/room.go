package registry

import (
	"sync"
	"time"

	"github.com/me-niyas-ali/stream/internal/domain"
)

type room struct {
	id        string
	createdAt time.Time

	mu sync.Mutex
	// closed is set once the room is removed from the registry. A caller that
	// finds a closed room must look it up again.
	closed    bool
	host      domain.Connection
	followers []domain.Connection
	playback  *domain.PlaybackState

	media         *domain.MediaMeta
	received      map[string]int64
	readyNotified bool
}

func newRoom(id string, host domain.Connection, now time.Time) *room {
	return &room{
		id:        id,
		createdAt: now,
		host:      host,
		received:  make(map[string]int64),
	}
}

func (rm *room) isHost(c domain.Connection) bool {
	return rm.host != nil && rm.host.ID() == c.ID()
}

func (rm *room) followerIndex(id string) int {
	for i, f := range rm.followers {
		if f.ID() == id {
			return i
		}
	}
	return -1
}

func (rm *room) role(c domain.Connection) domain.Role {
	if rm.isHost(c) {
		return domain.RoleHost
	}
	if rm.followerIndex(c.ID()) >= 0 {
		return domain.RoleFollower
	}
	return domain.RoleNone
}

func (rm *room) empty() bool {
	return rm.host == nil && len(rm.followers) == 0
}

func (rm *room) removeFollower(i int) domain.Connection {
	f := rm.followers[i]
	rm.followers = append(rm.followers[:i:i], rm.followers[i+1:]...)
	delete(rm.received, f.ID())
	return f
}

// resetMedia forgets the announced media and every transfer counter.
func (rm *room) resetMedia(meta *domain.MediaMeta) {
	rm.media = meta
	rm.readyNotified = false
	rm.received = make(map[string]int64, len(rm.followers))
	if meta != nil {
		for _, f := range rm.followers {
			rm.received[f.ID()] = 0
		}
	}
}

// ready reports whether every follower has received at least threshold of
// the announced media size.
func (rm *room) ready(threshold float64) bool {
	if rm.media == nil || rm.readyNotified || len(rm.followers) == 0 {
		return false
	}
	need := threshold * float64(rm.media.Size)
	for _, f := range rm.followers {
		if float64(rm.received[f.ID()]) < need {
			return false
		}
	}
	return true
}

func (rm *room) snapshot() Snapshot {
	snap := Snapshot{
		ID:        rm.id,
		Host:      rm.host,
		Followers: append([]domain.Connection(nil), rm.followers...),
		CreatedAt: rm.createdAt,
	}
	if rm.playback != nil {
		p := *rm.playback
		snap.Playback = &p
	}
	if rm.media != nil {
		m := *rm.media
		snap.Media = &m
	}
	return snap
}
