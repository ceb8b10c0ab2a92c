// Package registry owns every open room and enforces the single-host rule.
//
// Each room is guarded by its own mutex and the room map by an RWMutex. The
// lock order is map then room. Membership changes return snapshots and
// effects so that callers can notify connections after the locks are gone.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/me-niyas-ali/stream/internal/domain"
)

var (
	ErrAlreadyAttached = errors.New("connection is attached to another room")
	ErrNotAttached     = errors.New("connection is not attached to a room")
	ErrNotHost         = errors.New("connection is not the room host")
	ErrRoomIDExhausted = errors.New("no free room id")
)

// maxIDAttempts bounds the draws Create makes before giving up.
const maxIDAttempts = 128

// HostPolicy decides what happens to a room when its host leaves.
type HostPolicy int

const (
	// PromoteFollower hands the room to the longest-waiting follower.
	PromoteFollower HostPolicy = iota
	// EndSession closes the room and disconnects every follower.
	EndSession
)

func (p HostPolicy) String() string {
	if p == EndSession {
		return "end"
	}
	return "promote"
}

// ParseHostPolicy maps the configured name to a HostPolicy.
func ParseHostPolicy(s string) (HostPolicy, error) {
	switch s {
	case "", "promote":
		return PromoteFollower, nil
	case "end":
		return EndSession, nil
	default:
		return PromoteFollower, fmt.Errorf("unknown host policy %q", s)
	}
}

type Option func(*Registry)

func WithHostPolicy(p HostPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) { r.ids = g }
}

// WithReadyThreshold sets the fraction of the media size every follower must
// have received before the host is told playback can start.
func WithReadyThreshold(f float64) Option {
	return func(r *Registry) { r.readyThreshold = f }
}

// Registry tracks rooms and their membership.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	policy         HostPolicy
	ids            IDGenerator
	readyThreshold float64
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:          make(map[string]*room),
		policy:         PromoteFollower,
		ids:            NewDigitsGenerator(4),
		readyThreshold: 0.05,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the host departure policy.
func (r *Registry) Policy() HostPolicy {
	return r.policy
}

// Attach puts c into roomID, creating the room if it does not exist. The
// creator of a room becomes its host and later arrivals are followers.
// Attaching to the room c is already in returns its current role.
func (r *Registry) Attach(c domain.Connection, roomID string) (AttachResult, error) {
	if cur := c.Session().CurrentRoom(); cur != "" && cur != roomID {
		return AttachResult{}, ErrAlreadyAttached
	}

	for {
		r.mu.RLock()
		rm := r.rooms[roomID]
		r.mu.RUnlock()

		if rm == nil {
			res, ok, err := r.createLocked(c, roomID)
			if err != nil || ok {
				return res, err
			}
			continue
		}

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			r.forget(rm)
			continue
		}
		res, err := r.join(rm, c)
		rm.mu.Unlock()
		return res, err
	}
}

// createLocked opens roomID with c as host. ok is false when another caller
// opened the room first.
func (r *Registry) createLocked(c domain.Connection, roomID string) (AttachResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[roomID]; exists {
		return AttachResult{}, false, nil
	}
	return r.open(c, roomID)
}

// open must be called with r.mu held and roomID free.
func (r *Registry) open(c domain.Connection, roomID string) (AttachResult, bool, error) {
	if !c.Session().Attach(roomID, domain.RoleHost) {
		return AttachResult{}, false, ErrAlreadyAttached
	}
	rm := newRoom(roomID, c, time.Now())
	// Not yet visible to other goroutines.
	snap := rm.snapshot()
	r.rooms[roomID] = rm
	return AttachResult{Room: snap, Role: domain.RoleHost, Created: true}, true, nil
}

// join must be called with rm.mu held.
func (r *Registry) join(rm *room, c domain.Connection) (AttachResult, error) {
	if role := rm.role(c); role != domain.RoleNone {
		return AttachResult{Room: rm.snapshot(), Role: role, Rejoined: true}, nil
	}

	role := domain.RoleFollower
	if rm.host == nil {
		role = domain.RoleHost
	}
	if !c.Session().Attach(rm.id, role) {
		return AttachResult{}, ErrAlreadyAttached
	}

	if role == domain.RoleHost {
		rm.host = c
	} else {
		rm.followers = append(rm.followers, c)
		if rm.media != nil {
			rm.received[c.ID()] = 0
		}
	}
	return AttachResult{Room: rm.snapshot(), Role: role}, nil
}

// Create opens a room under a freshly generated id with c as host.
func (r *Registry) Create(c domain.Connection) (AttachResult, error) {
	if c.Session().CurrentRoom() != "" {
		return AttachResult{}, ErrAlreadyAttached
	}

	// Holding the map lock across draws keeps two creates from picking the
	// same id.
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxIDAttempts; i++ {
		id, err := r.ids.Generate()
		if err != nil {
			return AttachResult{}, err
		}
		if !domain.ValidRoomID(id) {
			return AttachResult{}, fmt.Errorf("generated room id %q is not joinable", id)
		}
		if _, taken := r.rooms[id]; taken {
			continue
		}
		res, _, err := r.open(c, id)
		return res, err
	}
	return AttachResult{}, ErrRoomIDExhausted
}

// Detach removes c from its room. Detaching a connection that is not in a
// room returns an empty Effect.
func (r *Registry) Detach(c domain.Connection) Effect {
	roomID := c.Session().CurrentRoom()
	if roomID == "" {
		return Effect{}
	}

	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		c.Session().LeaveRoomIf(roomID)
		return Effect{}
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		c.Session().LeaveRoomIf(roomID)
		return Effect{}
	}
	eff := r.leave(rm, c)
	if eff.Closed {
		rm.closed = true
	}
	rm.mu.Unlock()

	if eff.Closed {
		r.forget(rm)
	}
	return eff
}

// leave must be called with rm.mu held.
func (r *Registry) leave(rm *room, c domain.Connection) Effect {
	eff := Effect{RoomID: rm.id}

	switch {
	case rm.isHost(c):
		rm.host = nil
		c.Session().LeaveRoomIf(rm.id)
		eff.Left, eff.LeftRole = c, domain.RoleHost

		switch {
		case len(rm.followers) == 0:
			eff.Closed, eff.Reason = true, ReasonEmpty
		case r.policy == EndSession:
			eff.Evicted = rm.followers
			for _, f := range rm.followers {
				f.Session().LeaveRoomIf(rm.id)
			}
			rm.followers = nil
			eff.Closed, eff.Reason = true, ReasonHostLeft
		default:
			next := rm.removeFollower(0)
			rm.host = next
			next.Session().Promote(rm.id)
			// The announced media belonged to the previous host.
			rm.resetMedia(nil)
			eff.Promoted = next
		}

	default:
		i := rm.followerIndex(c.ID())
		if i < 0 {
			c.Session().LeaveRoomIf(rm.id)
			return Effect{}
		}
		rm.removeFollower(i)
		c.Session().LeaveRoomIf(rm.id)
		eff.Left, eff.LeftRole = c, domain.RoleFollower
		if rm.empty() {
			eff.Closed, eff.Reason = true, ReasonEmpty
		}
	}

	eff.Remaining = rm.snapshot()
	return eff
}

// forget removes rm from the map if it is still the registered room.
func (r *Registry) forget(rm *room) {
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

// Lookup returns a snapshot of roomID.
func (r *Registry) Lookup(roomID string) (Snapshot, bool) {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return Snapshot{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return Snapshot{}, false
	}
	return rm.snapshot(), true
}

// RoomOf returns a snapshot of the room c is in.
func (r *Registry) RoomOf(c domain.Connection) (Snapshot, bool) {
	var snap Snapshot
	err := r.withMember(c, func(rm *room) error {
		snap = rm.snapshot()
		return nil
	})
	return snap, err == nil
}

// UpdatePlayback records a host playback command.
func (r *Registry) UpdatePlayback(c domain.Connection, action string, position *float64) (Snapshot, error) {
	var snap Snapshot
	err := r.withMember(c, func(rm *room) error {
		if !rm.isHost(c) {
			return ErrNotHost
		}
		var prev domain.PlaybackState
		if rm.playback != nil {
			prev = *rm.playback
		}
		next := prev.Apply(action, position, time.Now())
		rm.playback = &next
		snap = rm.snapshot()
		return nil
	})
	return snap, err
}

// SetMedia records the media the host announced and restarts the transfer
// accounting used for the ready-to-play notice.
func (r *Registry) SetMedia(c domain.Connection, meta domain.MediaMeta) (Snapshot, error) {
	var snap Snapshot
	err := r.withMember(c, func(rm *room) error {
		if !rm.isHost(c) {
			return ErrNotHost
		}
		rm.resetMedia(&meta)
		snap = rm.snapshot()
		return nil
	})
	return snap, err
}

// RecordChunk credits n bytes to each follower in delivered, the ids the
// host's frame was actually queued to. ready is true exactly once per media
// announcement, on the chunk that brings the last follower over the
// threshold.
func (r *Registry) RecordChunk(c domain.Connection, n int, delivered []string) (ready bool, err error) {
	err = r.withMember(c, func(rm *room) error {
		if !rm.isHost(c) {
			return ErrNotHost
		}
		if rm.media == nil {
			return nil
		}
		for _, id := range delivered {
			if rm.followerIndex(id) >= 0 {
				rm.received[id] += int64(n)
			}
		}
		if rm.ready(r.readyThreshold) {
			rm.readyNotified = true
			ready = true
		}
		return nil
	})
	return ready, err
}

// withMember runs fn under the lock of the room c belongs to.
func (r *Registry) withMember(c domain.Connection, fn func(rm *room) error) error {
	roomID := c.Session().CurrentRoom()
	if roomID == "" {
		return ErrNotAttached
	}

	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return ErrNotAttached
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed || rm.role(c) == domain.RoleNone {
		return ErrNotAttached
	}
	return fn(rm)
}

// List returns every open room ordered by id.
func (r *Registry) List() []domain.RoomInfo {
	r.mu.RLock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	infos := make([]domain.RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed {
			infos = append(infos, rm.snapshot().Info())
		}
		rm.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stats returns the number of open rooms and attached connections.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rm := range r.rooms {
		rm.mu.Lock()
		if !rm.closed {
			rooms++
			members += len(rm.followers)
			if rm.host != nil {
				members++
			}
		}
		rm.mu.Unlock()
	}
	return rooms, members
}
