package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewFactoryUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "carrier-pigeon"
	if _, err := NewFactory(cfg); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("error = %v, want %v", err, ErrUnknownDriver)
	}
}

func TestNewFactoryMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = DriverMemory
	f, err := NewFactory(cfg)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	if _, ok := f.(*MemoryFactory); !ok {
		t.Errorf("factory = %T, want *MemoryFactory", f)
	}
}

func TestRedisChannel(t *testing.T) {
	if got := RedisChannel("live:room", "alice"); got != "live:room:alice" {
		t.Errorf("channel = %q", got)
	}
}

func TestKafkaFactoryValidation(t *testing.T) {
	if _, err := NewKafkaFactory(KafkaConfig{Topic: "t"}); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaFactory(KafkaConfig{Brokers: "b:9092"}); err == nil {
		t.Error("expected error without topic")
	}
}

func TestSanitizeGroupID(t *testing.T) {
	if got := sanitizeGroupID("host/1:alice bob"); got != "host-1-alice-bob" {
		t.Errorf("sanitizeGroupID = %q", got)
	}
}

func TestWebSocketFactoryTemplate(t *testing.T) {
	if _, err := NewWebSocketFactory(WebSocketConfig{URLTemplate: "ws://bridge/live"}); err == nil {
		t.Errorf("expected error for template without %%s")
	}

	f, err := NewWebSocketFactory(WebSocketConfig{URLTemplate: "ws://bridge/live/%s"})
	if err != nil {
		t.Fatalf("NewWebSocketFactory: %v", err)
	}
	if got := f.URL("a b/c"); got != "ws://bridge/live/a%20b%2Fc" {
		t.Errorf("URL = %q", got)
	}
}

func TestWebSocketSource(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"chat","data":{"comment":"hey"}}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	f, err := NewWebSocketFactory(WebSocketConfig{
		URLTemplate:      "ws" + strings.TrimPrefix(srv.URL, "http") + "/live/%s",
		HandshakeTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewWebSocketFactory: %v", err)
	}

	src := f.NewSource("alice")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := src.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer src.Close()

	if p := <-paths; p != "/live/alice" {
		t.Errorf("path = %q, want /live/alice", p)
	}

	select {
	case raw, ok := <-src.Events():
		if !ok {
			t.Fatal("events closed before first event")
		}
		if raw.Name != "chat" || !strings.Contains(string(raw.Payload), "hey") {
			t.Errorf("raw = %+v", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// The server hung up, so the channel closes.
	select {
	case _, ok := <-src.Events():
		if ok {
			t.Error("unexpected extra event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events not closed after server close")
	}
}

func TestWebSocketSourceDialFailure(t *testing.T) {
	f, err := NewWebSocketFactory(WebSocketConfig{URLTemplate: "ws://127.0.0.1:1/live/%s", HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewWebSocketFactory: %v", err)
	}
	src := f.NewSource("alice")
	if err := src.Connect(context.Background()); err == nil {
		t.Fatal("Connect succeeded against closed port")
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, ok := <-src.Events(); ok {
		t.Error("events not closed")
	}
}

func TestKafkaSourceCloseBeforeConnect(t *testing.T) {
	f, err := NewKafkaFactory(KafkaConfig{Brokers: "127.0.0.1:1", Topic: "live-events"})
	if err != nil {
		t.Fatalf("NewKafkaFactory: %v", err)
	}
	src := f.NewSource("alice")
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-src.Events(); ok {
		t.Error("events not closed")
	}
}

func TestMetadataTimeout(t *testing.T) {
	if got := metadataTimeoutMs(context.Background()); got != 10000 {
		t.Errorf("no deadline = %d, want 10000", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if got := metadataTimeoutMs(ctx); got != 100 {
		t.Errorf("short deadline = %d, want 100", got)
	}
}
