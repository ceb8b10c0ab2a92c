package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/me-niyas-ali/stream/internal/broadcast"
	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/hub"
	"github.com/me-niyas-ali/stream/internal/metrics"
	"github.com/me-niyas-ali/stream/internal/service"
	pkglog "github.com/me-niyas-ali/stream/pkg/log"
)

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub      *hub.Hub
	service  service.RelayService
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler. Browsers are only accepted
// from allowedOrigins; "*" accepts any origin.
func NewWSHandler(h *hub.Hub, svc service.RelayService, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		// Same-origin pages are always fine.
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeHTTP upgrades the request and starts the client pumps.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := pkglog.L()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	client := h.hub.NewClient(clientID, conn)

	// The request context ends when this handler returns.
	ctx, cl := pkglog.ForClient(context.Background(), clientID)

	client.SetDisconnectHandler(func(c *hub.Client) {
		roomID, role := c.Session().Room()
		cl.Debug().Str(pkglog.FieldRoomID, roomID).Str(pkglog.FieldRole, role.String()).Msg("client disconnected")
		if err := h.service.HandleDisconnect(ctx, c); err != nil {
			cl.Error().Err(err).Msg("disconnect handler error")
		}
	})

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, messageType int, data []byte) {
		h.Dispatch(ctx, c, messageType, data)
	})
}

// Dispatch routes one inbound frame. Binary frames are media chunks; text
// frames are decoded envelopes. A frame that does not decode is answered
// with an error and changes nothing.
func (h *WSHandler) Dispatch(ctx context.Context, c domain.Connection, messageType int, data []byte) {
	l := pkglog.Ctx(ctx)

	if messageType == websocket.BinaryMessage {
		metrics.Messages.WithLabelValues("binary").Inc()
		if err := h.service.HandleChunk(ctx, c, data); err != nil {
			l.Error().Err(err).Msg("chunk relay failed")
		}
		return
	}

	msg, err := domain.DecodeInbound(data)
	if err != nil {
		metrics.Messages.WithLabelValues("invalid").Inc()
		l.Warn().Err(err).Msg("invalid message")
		if err := broadcast.SendTo(c, domain.NewErrorMessage(domain.ErrCodeBadRequest, err.Error())); err != nil {
			l.Error().Err(err).Msg("failed to send error")
		}
		return
	}

	var kind string
	switch m := msg.(type) {
	case domain.JoinMessage:
		kind = domain.MsgTypeJoin
		err = h.service.HandleJoin(ctx, c, m.Room)

	case domain.CreateRoomMessage:
		kind = domain.MsgTypeCreateRoom
		err = h.service.HandleCreateRoom(ctx, c)

	case domain.LeaveMessage:
		kind = domain.MsgTypeLeave
		err = h.service.HandleLeave(ctx, c)

	case domain.SignalMessage:
		kind = domain.MsgTypeSignal
		err = h.service.HandleSignal(ctx, c, m)

	case domain.PlaybackMessage:
		kind = domain.MsgTypePlayback
		err = h.service.HandlePlayback(ctx, c, m)

	case domain.MediaMetaMessage:
		kind = domain.MsgTypeMediaMeta
		err = h.service.HandleMediaMeta(ctx, c, m)

	case domain.PingMessage:
		kind = domain.MsgTypePing
		err = h.service.HandlePing(ctx, c)
	}

	metrics.Messages.WithLabelValues(kind).Inc()
	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldMessageType, kind).Msg("message handling failed")
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", gin.WrapH(h))
}
