package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/live-relay/internal/registry"
	"github.com/weiawesome/live-relay/internal/router"
	"github.com/weiawesome/live-relay/internal/upstream"
	"github.com/weiawesome/live-relay/pkg/log"
	"github.com/weiawesome/live-relay/pkg/response"
)

// ErrNoGateway is returned by Attach when no socket handler is configured.
var ErrNoGateway = errors.New("no websocket gateway configured")

// readyMessage is the bootstrap body once the gateway is attached.
const readyMessage = "Websockets now ready"

// RoomLister exposes the registry's debug view.
type RoomLister interface {
	Snapshot() []registry.RoomInfo
}

// StatsSource exposes router counters.
type StatsSource interface {
	Stats() router.Stats
}

// EventInjector publishes raw events into a room's upstream. Only the
// memory driver provides one.
type EventInjector interface {
	Publish(room string, raw upstream.RawEvent) int
}

// Handler serves the bootstrap, health and debug endpoints and owns the
// socket route.
type Handler struct {
	ws       *WSHandler
	rooms    RoomLister
	stats    StatsSource
	injector EventInjector
	onAttach func()

	attachOnce sync.Once
	mu         sync.RWMutex
	attached   bool
}

// Options carries the optional collaborators of Handler.
type Options struct {
	Rooms    RoomLister
	Stats    StatsSource
	Injector EventInjector
	// OnAttach runs once, when the gateway is first attached.
	OnAttach func()
}

func NewHandler(ws *WSHandler, opts Options) *Handler {
	return &Handler{
		ws:       ws,
		rooms:    opts.Rooms,
		stats:    opts.Stats,
		injector: opts.Injector,
		onAttach: opts.OnAttach,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.Bootstrap)
	r.POST("/", h.Bootstrap)
	r.GET("/bootstrap", h.Bootstrap)
	r.POST("/bootstrap", h.Bootstrap)
	r.GET("/health", h.Health)

	r.GET("/socket", h.Socket)
	r.GET("/ws", h.Socket)

	api := r.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		if h.injector != nil {
			api.POST("/rooms/:name/events", h.InjectEvent)
		}
	}
}

// Attach enables the socket route. Calls after the first are no-ops.
func (h *Handler) Attach() error {
	if h.ws == nil {
		return ErrNoGateway
	}
	h.attachOnce.Do(func() {
		h.mu.Lock()
		h.attached = true
		h.mu.Unlock()

		l := log.L()
		l.Info().Msg("websocket gateway attached")
		if h.onAttach != nil {
			h.onAttach()
		}
	})
	return nil
}

// Attached reports whether the socket route accepts upgrades.
func (h *Handler) Attached() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.attached
}

// Bootstrap attaches the gateway on first use. It always answers 503 with
// Retry-After 0 so clients fall through to the socket route.
func (h *Handler) Bootstrap(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	if err := h.Attach(); err != nil {
		l.Error().Err(err).Msg("failed to attach websocket gateway")
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.Header("Retry-After", "0")
	c.String(http.StatusServiceUnavailable, readyMessage)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Socket upgrades the request once the gateway is attached.
func (h *Handler) Socket(c *gin.Context) {
	if !h.Attached() {
		response.Error(c, http.StatusServiceUnavailable, "GATEWAY_NOT_ATTACHED", "call the bootstrap endpoint first")
		return
	}
	h.ws.HandleWebSocket(c.Writer, c.Request)
}

// RoomsView is the body of the rooms debug endpoint.
type RoomsView struct {
	Rooms []registry.RoomInfo `json:"rooms"`
	Stats *router.Stats       `json:"stats,omitempty"`
}

// ListRooms returns the live room map.
func (h *Handler) ListRooms(c *gin.Context) {
	view := RoomsView{Rooms: []registry.RoomInfo{}}
	if h.rooms != nil {
		view.Rooms = h.rooms.Snapshot()
	}
	if h.stats != nil {
		s := h.stats.Stats()
		view.Stats = &s
	}
	response.Success(c, view)
}

// InjectEventRequest is a raw upstream event posted to the memory driver.
type InjectEventRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

// InjectEvent feeds a raw event into a room's memory upstream.
func (h *Handler) InjectEvent(c *gin.Context) {
	l := log.Ctx(c.Request.Context())
	room := c.Param("name")

	var req InjectEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	n := h.injector.Publish(room, upstream.RawEvent{Name: req.Event, Payload: req.Data})
	if n == 0 {
		response.NotFound(c, "room has no connected upstream")
		return
	}

	l.Debug().Str(log.FieldRoom, room).Str(log.FieldEvent, req.Event).Int("sources", n).Msg("event injected")
	response.Accepted(c, gin.H{"sources": n})
}
