package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/me-niyas-ali/stream/internal/config"
	"github.com/me-niyas-ali/stream/internal/domain"
	"github.com/me-niyas-ali/stream/internal/metrics"
	"github.com/me-niyas-ali/stream/internal/registry"
	"github.com/me-niyas-ali/stream/pkg/response"
)

const fallbackSTUN = "stun:stun.l.google.com:19302"

// ConnectionCounter reports the number of open connections.
type ConnectionCounter interface {
	Count() int
}

// ICEServer is one entry of the RTCPeerConnection iceServers list.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Handler serves the read-only HTTP API.
type Handler struct {
	registry    *registry.Registry
	connections ConnectionCounter
	iceServers  []ICEServer
}

// NewHandler creates a new HTTP handler.
func NewHandler(reg *registry.Registry, connections ConnectionCounter, ice []config.ICEServerConfig) *Handler {
	servers := make([]ICEServer, 0, len(ice)+1)
	hasSTUN := false
	for _, s := range ice {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "stuns:") {
				hasSTUN = true
			}
		}
		servers = append(servers, ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	// Always include a STUN server as fallback
	if !hasSTUN {
		servers = append([]ICEServer{{URLs: []string{fallbackSTUN}}}, servers...)
	}

	return &Handler{
		registry:    reg,
		connections: connections,
		iceServers:  servers,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.ListRooms)
			rooms.GET("/:id", h.GetRoom)
		}
		api.GET("/stats", h.Stats)
		api.GET("/ice-servers", h.ICEServers)
	}
}

// Health reports that the process is serving.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListRooms returns every open room.
func (h *Handler) ListRooms(c *gin.Context) {
	response.Success(c, h.registry.List())
}

// GetRoom returns one room.
func (h *Handler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if !domain.ValidRoomID(id) {
		response.BadRequest(c, "invalid room id")
		return
	}

	snap, ok := h.registry.Lookup(id)
	if !ok {
		response.NotFound(c, "room not found")
		return
	}
	response.Success(c, snap.Info())
}

// StatsResponse is the payload of GET /api/v1/stats.
type StatsResponse struct {
	Rooms       int `json:"rooms"`
	Members     int `json:"members"`
	Connections int `json:"connections"`
}

// Stats returns process-wide counters.
func (h *Handler) Stats(c *gin.Context) {
	rooms, members := h.registry.Stats()
	response.Success(c, StatsResponse{
		Rooms:       rooms,
		Members:     members,
		Connections: h.connections.Count(),
	})
}

// ICEServers returns the ICE configuration for browser peers.
func (h *Handler) ICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": h.iceServers})
}
