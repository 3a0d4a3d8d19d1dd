package hub

import (
	"errors"
	"sync"

	"github.com/weiawesome/live-relay/internal/config"
	"github.com/weiawesome/live-relay/pkg/log"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Hub tracks connected clients and delivers frames to them by ID. Room
// membership lives in the registry; the hub only knows sockets.
type Hub struct {
	clients    map[string]*Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		unregister: make(chan *Client, 64),
		quit:       make(chan struct{}),
		config:     cfg,
	}
}

// Config returns the socket settings clients are created with.
func (h *Hub) Config() config.WebSocketConfig {
	return h.config
}

// Run removes clients queued for unregistration until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.remove(client)
		case <-h.quit:
			return
		}
	}
}

// Stop ends Run and closes every client connection. Read pumps observe the
// closed sockets and run their disconnect handlers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)

		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()

		for _, c := range clients {
			if c.Conn != nil {
				c.Conn.Close()
			}
		}
	})
}

// Register makes client addressable by Send. It completes before returning
// so frames routed right after a join are never lost.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldClientID, client.ID).Msg("client registered")
}

// Unregister removes client and closes its send channel. Safe to call more
// than once.
func (h *Hub) Unregister(client *Client) {
	h.remove(client)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.ID]
	if ok && current == client {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.mu.Unlock()

	if ok && current == client {
		l := log.L()
		l.Debug().Str(log.FieldClientID, client.ID).Msg("client unregistered")
	}
}

// removeAsync drops a slow client without blocking the sender.
func (h *Hub) removeAsync(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	default:
		go h.remove(client)
	}
}

// Send queues frame for clientID. A client whose buffer is full is
// disconnected.
func (h *Hub) Send(clientID string, frame []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- frame:
		return nil
	default:
		h.removeAsync(client)
		return ErrSendBufferFull
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
