package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/weiawesome/live-relay/internal/domain"
	"github.com/weiawesome/live-relay/internal/hub"
	"github.com/weiawesome/live-relay/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Sessions is the session manager as seen by the socket handler.
type Sessions interface {
	OnConnect(ctx context.Context, clientID string) (*domain.Session, error)
	OnJoin(ctx context.Context, clientID, room string) error
	OnLeave(ctx context.Context, clientID, room string) error
	OnDisconnect(ctx context.Context, clientID string)
}

type WSHandler struct {
	hub      *hub.Hub
	sessions Sessions
}

func NewWSHandler(h *hub.Hub, sessions Sessions) *WSHandler {
	return &WSHandler{
		hub:      h,
		sessions: sessions,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := log.Ctx(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	// The session outlives the upgrade request, so detach from its context
	// but keep its logger.
	ctx := log.WithClient(log.WithLogger(context.Background(), l), clientID)

	if _, err := h.sessions.OnConnect(ctx, clientID); err != nil {
		l.Error().Err(err).Str(log.FieldClientID, clientID).Msg("failed to create session")
		conn.Close()
		return
	}

	client := hub.NewClient(clientID, h.hub, conn, h.hub.Config())
	client.SetDisconnectHandler(func(c *hub.Client) {
		h.sessions.OnDisconnect(ctx, c.ID)
	})

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(func(c *hub.Client, message []byte) {
		h.handleMessage(ctx, c, message)
	})
}

// handleMessage dispatches one client frame. Malformed frames and unknown
// events are ignored.
func (h *WSHandler) handleMessage(ctx context.Context, client *hub.Client, message []byte) {
	l := log.Ctx(ctx)
	defer func() {
		if rec := recover(); rec != nil {
			l.Error().Interface("panic", rec).Msg("message handler panicked")
		}
	}()

	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		l.Debug().Err(err).Msg("ignoring malformed frame")
		return
	}

	switch env.Event {
	case domain.MsgJoin:
		req, ok := decodeRoomRequest(env.Data)
		if !ok {
			return
		}
		if err := h.sessions.OnJoin(ctx, client.ID, req.Username); err != nil {
			l.Warn().Err(err).Str(log.FieldRoom, req.Username).Msg("join failed")
		}

	case domain.MsgLeave:
		req, ok := decodeRoomRequest(env.Data)
		if !ok {
			return
		}
		if err := h.sessions.OnLeave(ctx, client.ID, req.Username); err != nil {
			l.Warn().Err(err).Str(log.FieldRoom, req.Username).Msg("leave failed")
		}

	case domain.MsgPing:
		frame, err := domain.NewFrame(domain.MsgPong, nil)
		if err != nil {
			return
		}
		if err := h.hub.Send(client.ID, frame); err != nil {
			l.Debug().Err(err).Msg("failed to send pong")
		}

	default:
		l.Debug().Str(log.FieldEvent, env.Event).Msg("ignoring unknown event")
	}
}

func decodeRoomRequest(data json.RawMessage) (domain.RoomRequest, bool) {
	var req domain.RoomRequest
	if len(data) == 0 {
		return req, false
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, false
	}
	return req, req.Username != ""
}
