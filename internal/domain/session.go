package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is the per-connection state shared by the registry, the router and
// the liveness monitor.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.RWMutex
	roomID string
	role   Role

	// alive is cleared by each liveness sweep and set again by any pong.
	alive atomic.Bool
}

// NewSession creates a new session. A fresh session counts as alive.
func NewSession(id string) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
	}
	s.alive.Store(true)
	return s
}

// Attach records membership in roomID. It fails if the session already
// belongs to a different room.
func (s *Session) Attach(roomID string, role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID != "" && s.roomID != roomID {
		return false
	}
	s.roomID = roomID
	s.role = role
	return true
}

// Promote changes the role to host if the session is still in roomID.
func (s *Session) Promote(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID != roomID {
		return false
	}
	s.role = RoleHost
	return true
}

// LeaveRoomIf clears the membership only if it still points at roomID.
func (s *Session) LeaveRoomIf(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomID != roomID {
		return false
	}
	s.roomID = ""
	s.role = RoleNone
	return true
}

// Room returns the current room ID and role.
func (s *Session) Room() (string, Role) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID, s.role
}

// CurrentRoom returns the current room ID, or "" when detached.
func (s *Session) CurrentRoom() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// IsHost reports whether the session hosts its current room.
func (s *Session) IsHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role == RoleHost
}

// MarkAlive records a liveness confirmation.
func (s *Session) MarkAlive() {
	s.alive.Store(true)
}

// TakeAlive clears the flag and reports whether it was set.
func (s *Session) TakeAlive() bool {
	return s.alive.Swap(false)
}
