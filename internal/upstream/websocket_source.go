package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/live-relay/pkg/log"
)

// WebSocketFactory dials one WebSocket per room to a bridge that speaks the
// live platform's protocol and streams RawEvent JSON frames back.
type WebSocketFactory struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
}

func NewWebSocketFactory(cfg WebSocketConfig) (*WebSocketFactory, error) {
	if strings.Count(cfg.URLTemplate, "%s") != 1 {
		return nil, fmt.Errorf("websocket source: url_template must contain exactly one %%s, got %q", cfg.URLTemplate)
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	return &WebSocketFactory{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}, nil
}

// URL returns the upstream endpoint for room.
func (f *WebSocketFactory) URL(room string) string {
	return fmt.Sprintf(f.cfg.URLTemplate, url.PathEscape(room))
}

func (f *WebSocketFactory) NewSource(room string) Source {
	return &WebSocketSource{
		dialer:   f.dialer,
		room:     room,
		url:      f.URL(room),
		pongWait: f.cfg.PongWait,
		events:   make(chan RawEvent, 100),
		done:     make(chan struct{}),
	}
}

func (f *WebSocketFactory) Close() error {
	return nil
}

// WebSocketSource is one dialed room stream.
type WebSocketSource struct {
	dialer   *websocket.Dialer
	room     string
	url      string
	pongWait time.Duration
	events   chan RawEvent

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (s *WebSocketSource) Connect(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readPump(conn)
	return nil
}

func (s *WebSocketSource) Events() <-chan RawEvent {
	return s.events
}

func (s *WebSocketSource) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.mu.Unlock()

		close(s.done)
		if conn == nil {
			close(s.events)
			return
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	})
	return err
}

func (s *WebSocketSource) readPump(conn *websocket.Conn) {
	defer close(s.events)
	l := log.L()

	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				l.Debug().Err(err).Str(log.FieldRoom, s.room).Msg("websocket source: read ended")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongWait))

		var raw RawEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			l.Debug().Err(err).Str(log.FieldRoom, s.room).Msg("websocket source: invalid frame")
			continue
		}

		select {
		case s.events <- raw:
		case <-s.done:
			return
		}
	}
}
