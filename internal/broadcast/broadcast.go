// Package broadcast delivers encoded messages to room members. Every function
// works on a registry snapshot, so no registry lock is held while queueing.
package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/registry"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
)

// SendTo encodes msg and queues it to c.
func SendTo(c domain.Connection, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	deliver(c, data, false)
	return nil
}

// Room queues msg to every member of snap except exclude.
func Room(snap registry.Snapshot, msg interface{}, exclude string) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode %T: %w", msg, err)
	}
	return fanOut(snap.Connections(), data, exclude), nil
}

// Followers queues msg to every follower of snap except exclude.
func Followers(snap registry.Snapshot, msg interface{}, exclude string) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("encode %T: %w", msg, err)
	}
	return fanOut(snap.Followers, data, exclude), nil
}

// FollowersBinary queues the same binary frame to every follower and returns
// the ids it was queued to.
func FollowersBinary(snap registry.Snapshot, data []byte) []string {
	delivered := make([]string, 0, len(snap.Followers))
	for _, f := range snap.Followers {
		if deliver(f, data, true) {
			delivered = append(delivered, f.ID())
		}
	}
	return delivered
}

// Host queues msg to the host of snap. It is a no-op for a hostless room.
func Host(snap registry.Snapshot, msg interface{}) error {
	if snap.Host == nil {
		return nil
	}
	return SendTo(snap.Host, msg)
}

func fanOut(conns []domain.Connection, data []byte, exclude string) int {
	n := 0
	for _, c := range conns {
		if c.ID() == exclude {
			continue
		}
		if deliver(c, data, false) {
			n++
		}
	}
	return n
}

func deliver(c domain.Connection, data []byte, binary bool) bool {
	var err error
	if binary {
		err = c.SendBinary(data)
	} else {
		err = c.Send(data)
	}
	if err != nil {
		l := pkglog.L()
		l.Debug().Err(err).Str(pkglog.FieldClientID, c.ID()).Msg("frame dropped")
		return false
	}
	return true
}
