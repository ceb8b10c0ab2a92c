package service

import (
	"context"
	"errors"

	"github.com/me-niyas-ali/stream/internal/broadcast"
	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/metrics"
	"github.com/me-niyas-ali/stream/internal/registry"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
)

type relayService struct {
	registry *registry.Registry
	events   LifecycleNotifier
}

// NewRelayService creates a RelayService. A nil notifier discards lifecycle
// events.
func NewRelayService(reg *registry.Registry, events LifecycleNotifier) RelayService {
	if events == nil {
		events = nopNotifier{}
	}
	return &relayService{
		registry: reg,
		events:   events,
	}
}

func (s *relayService) HandleJoin(ctx context.Context, c domain.Connection, roomID string) error {
	// Leave current room if any
	if current := c.Session().CurrentRoom(); current != "" && current != roomID {
		s.detach(ctx, c)
	}

	res, err := s.registry.Attach(c, roomID)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("join failed")
		return broadcast.SendTo(c, domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to join room"))
	}
	return s.announceJoin(ctx, c, res)
}

func (s *relayService) HandleCreateRoom(ctx context.Context, c domain.Connection) error {
	if c.Session().CurrentRoom() != "" {
		s.detach(ctx, c)
	}

	res, err := s.registry.Create(c)
	if err != nil {
		l := pkglog.Ctx(ctx)
		if errors.Is(err, registry.ErrRoomIDExhausted) {
			l.Warn().Err(err).Msg("room id space exhausted")
			return broadcast.SendTo(c, domain.NewErrorMessage(domain.ErrCodeRoomUnavailable, "No room available, try again later"))
		}
		l.Error().Err(err).Msg("create room failed")
		return broadcast.SendTo(c, domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to create room"))
	}

	if err := broadcast.SendTo(c, &domain.RoomCreatedMessage{
		Type: domain.MsgTypeRoomCreated,
		Room: res.Room.ID,
	}); err != nil {
		return err
	}
	return s.announceJoin(ctx, c, res)
}

// announceJoin sends init to the joiner and, for a new member, tells the room.
func (s *relayService) announceJoin(ctx context.Context, c domain.Connection, res registry.AttachResult) error {
	snap := res.Room
	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldRoomID, snap.ID).
		Str(pkglog.FieldRole, res.Role.String()).
		Int(pkglog.FieldMembers, snap.Members()).
		Bool("created", res.Created).
		Msg("client joined room")

	if res.Created {
		metrics.Rooms.Inc()
		s.events.RoomCreated(snap.ID, c.ID())
	}

	if err := broadcast.SendTo(c, &domain.InitMessage{
		Type:     domain.MsgTypeInit,
		ID:       c.ID(),
		Room:     snap.ID,
		IsHost:   res.Role == domain.RoleHost,
		Clients:  snap.Members(),
		Playback: snap.Playback,
		Media:    snap.Media,
	}); err != nil {
		return err
	}
	if res.Rejoined {
		return nil
	}

	if _, err := broadcast.Room(snap, &domain.ClientsMessage{
		Type:  domain.MsgTypeClients,
		Count: snap.Members(),
	}, ""); err != nil {
		return err
	}
	if res.Role == domain.RoleFollower {
		return broadcast.Host(snap, &domain.UserJoinedMessage{
			Type: domain.MsgTypeUserJoined,
			ID:   c.ID(),
		})
	}
	return nil
}

func (s *relayService) HandleLeave(ctx context.Context, c domain.Connection) error {
	roomID := c.Session().CurrentRoom()
	if roomID == "" {
		return nil
	}
	if !s.detach(ctx, c) {
		return nil
	}
	return broadcast.SendTo(c, &domain.LeftRoomMessage{
		Type: domain.MsgTypeLeftRoom,
		Room: roomID,
	})
}

func (s *relayService) HandleDisconnect(ctx context.Context, c domain.Connection) error {
	s.detach(ctx, c)
	return nil
}

// detach removes c from its room and notifies whoever is affected. It
// reports whether c was in a room.
func (s *relayService) detach(ctx context.Context, c domain.Connection) bool {
	eff := s.registry.Detach(c)
	if eff.Empty() {
		return false
	}

	l := pkglog.Ctx(ctx).With().Str(pkglog.FieldRoomID, eff.RoomID).Logger()
	snap := eff.Remaining

	if eff.LeftRole == domain.RoleHost {
		switch {
		case eff.Promoted != nil:
			metrics.HostChanges.WithLabelValues("promoted").Inc()
		case len(eff.Evicted) > 0:
			metrics.HostChanges.WithLabelValues("ended").Inc()
		default:
			metrics.HostChanges.WithLabelValues("empty").Inc()
		}
	}

	if eff.Promoted != nil {
		l.Info().Str("host_id", eff.Promoted.ID()).Msg("host reassigned")
		s.send(ctx, eff.Promoted, &domain.HostReassignedMessage{
			Type:    domain.MsgTypeHostReassigned,
			Room:    eff.RoomID,
			IsHost:  true,
			Clients: snap.Members(),
		})
		if _, err := broadcast.Followers(snap, &domain.HostChangedMessage{
			Type: domain.MsgTypeHostChanged,
			Host: eff.Promoted.ID(),
		}, ""); err != nil {
			l.Error().Err(err).Msg("failed to announce host change")
		}
		s.events.HostChanged(eff.RoomID, c.ID(), eff.Promoted.ID(), snap.Members())
	}

	// Close drains the queue first, so room-closed precedes the close frame.
	for _, f := range eff.Evicted {
		s.send(ctx, f, &domain.RoomClosedMessage{
			Type:   domain.MsgTypeRoomClosed,
			Room:   eff.RoomID,
			Reason: eff.Reason,
		})
		f.Close()
	}

	if eff.Closed {
		l.Info().Str("reason", eff.Reason).Int("evicted", len(eff.Evicted)).Msg("room closed")
		metrics.Rooms.Dec()
		s.events.RoomClosed(eff.RoomID, eff.Reason)
		return true
	}

	l.Info().Str(pkglog.FieldRole, eff.LeftRole.String()).Int(pkglog.FieldMembers, snap.Members()).Msg("client left room")
	if _, err := broadcast.Room(snap, &domain.ClientsMessage{
		Type:  domain.MsgTypeClients,
		Count: snap.Members(),
	}, ""); err != nil {
		l.Error().Err(err).Msg("failed to broadcast member count")
	}
	return true
}

func (s *relayService) HandleSignal(ctx context.Context, c domain.Connection, msg domain.SignalMessage) error {
	l := pkglog.Ctx(ctx)

	snap, ok := s.registry.RoomOf(c)
	if !ok {
		l.Debug().Msg("signal from unattached client dropped")
		return nil
	}

	out := &domain.RelayedSignalMessage{
		Type:   domain.MsgTypeSignal,
		From:   c.ID(),
		Signal: msg.Signal,
	}

	if msg.To != "" {
		target, ok := snap.Member(msg.To)
		if !ok || msg.To == c.ID() {
			l.Debug().Str("to", msg.To).Msg("signal target not in room, dropped")
			return nil
		}
		return broadcast.SendTo(target, out)
	}

	if snap.Host != nil && snap.Host.ID() == c.ID() {
		_, err := broadcast.Followers(snap, out, c.ID())
		return err
	}
	return broadcast.Host(snap, out)
}

func (s *relayService) HandlePlayback(ctx context.Context, c domain.Connection, msg domain.PlaybackMessage) error {
	snap, err := s.registry.UpdatePlayback(c, msg.Action, msg.Time)
	if err != nil {
		s.ignored(ctx, domain.MsgTypePlayback, err)
		return nil
	}

	msg.Type = domain.MsgTypePlayback
	_, err = broadcast.Followers(snap, &msg, c.ID())
	return err
}

func (s *relayService) HandleMediaMeta(ctx context.Context, c domain.Connection, msg domain.MediaMetaMessage) error {
	snap, err := s.registry.SetMedia(c, domain.MediaMeta{
		Name:     msg.Name,
		Size:     msg.Size,
		MimeType: msg.MimeType,
	})
	if err != nil {
		s.ignored(ctx, domain.MsgTypeMediaMeta, err)
		return nil
	}

	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldRoomID, snap.ID).Str("name", msg.Name).Int64("size", msg.Size).Msg("media announced")

	msg.Type = domain.MsgTypeMediaMeta
	_, err = broadcast.Followers(snap, &msg, c.ID())
	return err
}

func (s *relayService) HandleChunk(ctx context.Context, c domain.Connection, data []byte) error {
	if !c.Session().IsHost() {
		s.ignored(ctx, "chunk", registry.ErrNotHost)
		return nil
	}
	snap, ok := s.registry.RoomOf(c)
	if !ok {
		s.ignored(ctx, "chunk", registry.ErrNotAttached)
		return nil
	}

	delivered := broadcast.FollowersBinary(snap, data)
	ready, err := s.registry.RecordChunk(c, len(data), delivered)
	if err != nil {
		s.ignored(ctx, "chunk", err)
		return nil
	}
	if ready {
		l := pkglog.Ctx(ctx)
		l.Info().Str(pkglog.FieldRoomID, snap.ID).Msg("followers ready to play")
		return broadcast.SendTo(c, &domain.NoticeMessage{Type: domain.MsgTypeReadyToPlay})
	}
	return nil
}

func (s *relayService) HandlePing(ctx context.Context, c domain.Connection) error {
	c.Session().MarkAlive()
	return broadcast.SendTo(c, &domain.NoticeMessage{Type: domain.MsgTypePong})
}

func (s *relayService) send(ctx context.Context, c domain.Connection, msg interface{}) {
	if err := broadcast.SendTo(c, msg); err != nil {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldClientID, c.ID()).Msg("failed to send message")
	}
}

// ignored logs a host-only or room-only command that was not applied.
func (s *relayService) ignored(ctx context.Context, kind string, err error) {
	l := pkglog.Ctx(ctx)
	l.Debug().Err(err).Str(pkglog.FieldMessageType, kind).Msg("command ignored")
}
