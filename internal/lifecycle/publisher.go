// Package lifecycle announces room lifecycle changes on the event bus.
package lifecycle

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	pkglog "github.com/me-niyas-ali/stream/pkg/log"
	"github.com/me-niyas-ali/stream/pkg/pubsub"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 3 * time.Second
)

type job struct {
	channel string
	event   *pubsub.Event
}

// Publisher queues lifecycle events and publishes them from one goroutine,
// so events of a room reach the bus in the order they happened. A full queue
// drops the event.
type Publisher struct {
	bus     pubsub.Publisher
	source  string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan job
	done   chan struct{}
}

// NewPublisher creates a publisher and starts its worker. source identifies
// this process in every event.
func NewPublisher(bus pubsub.Publisher, source string) *Publisher {
	p := &Publisher{
		bus:     bus,
		source:  source,
		timeout: defaultPublishTimeout,
		queue:   make(chan job, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// RoomCreated announces a new room.
func (p *Publisher) RoomCreated(roomID, hostID string) {
	p.enqueue(roomID, pubsub.EventRoomCreated, pubsub.RoomCreatedPayload{
		RoomID: roomID,
		HostID: hostID,
	})
}

// HostChanged announces a promotion.
func (p *Publisher) HostChanged(roomID, previousID, hostID string, members int) {
	p.enqueue(roomID, pubsub.EventHostChanged, pubsub.HostChangedPayload{
		RoomID:     roomID,
		PreviousID: previousID,
		HostID:     hostID,
		Members:    members,
	})
}

// RoomClosed announces that a room was removed.
func (p *Publisher) RoomClosed(roomID, reason string) {
	p.enqueue(roomID, pubsub.EventRoomClosed, pubsub.RoomClosedPayload{
		RoomID: roomID,
		Reason: reason,
	})
}

// Close stops accepting events and waits until the queued ones are published.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) enqueue(roomID, eventType string, payload interface{}) {
	l := pkglog.L()

	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		l.Error().Err(err).Msg("failed to generate event id")
		return
	}
	event, err := pubsub.NewEvent(id.String(), eventType, roomID, payload)
	if err != nil {
		l.Error().Err(err).Str("event_type", eventType).Msg("failed to encode event")
		return
	}
	event.Source = p.source

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- job{channel: pubsub.RoomLifecycleChannel(roomID), event: event}:
	default:
		l.Warn().Str(pkglog.FieldRoomID, roomID).Str("event_type", eventType).Msg("lifecycle queue full, event dropped")
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	l := pkglog.L()

	for j := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.bus.Publish(ctx, j.channel, j.event); err != nil {
			l.Warn().Err(err).
				Str(pkglog.FieldRoomID, j.event.RoomID).
				Str("event_type", j.event.Type).
				Msg("failed to publish lifecycle event")
		}
		cancel()
	}
}
