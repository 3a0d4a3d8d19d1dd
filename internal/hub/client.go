package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/live-relay/internal/config"
	"github.com/weiawesome/live-relay/pkg/log"
)

// DisconnectHandler is called once when a client's connection ends.
type DisconnectHandler func(*Client)

// MessageHandler is called for every frame read from a client.
type MessageHandler func(*Client, []byte)

type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte

	config            config.WebSocketConfig
	disconnectHandler DisconnectHandler
	disconnectOnce    sync.Once
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	return &Client{
		ID:     id,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, buf),
		config: cfg,
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// ReadPump reads frames until the connection fails or closes, then
// unregisters the client and fires the disconnect handler exactly once.
func (c *Client) ReadPump(handler MessageHandler) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
		c.fireDisconnect()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	l := log.L()
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				l.Debug().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket closed unexpectedly")
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		handler(c, message)
	}
}

func (c *Client) fireDisconnect() {
	c.disconnectOnce.Do(func() {
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
	})
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
