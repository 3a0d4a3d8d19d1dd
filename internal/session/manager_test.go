package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/weiawesome/live-relay/internal/domain"
	"github.com/weiawesome/live-relay/internal/registry"
	"github.com/weiawesome/live-relay/internal/upstream"
)

type fakeConn struct {
	mu          sync.Mutex
	connected   bool
	disconnects int
}

func (c *fakeConn) Connect() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
}

func (c *fakeConn) State() upstream.State       { return upstream.StateConnected }
func (c *fakeConn) Events() <-chan domain.Event { return nil }

type notifier struct {
	mu     sync.Mutex
	frames map[string][]string
}

func (n *notifier) Send(clientID string, frame []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.frames == nil {
		n.frames = make(map[string][]string)
	}
	n.frames[clientID] = append(n.frames[clientID], string(frame))
	return nil
}

func (n *notifier) get(clientID string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.frames[clientID]...)
}

type fixture struct {
	mgr   *Manager
	reg   *registry.Registry
	note  *notifier
	mu    sync.Mutex
	conns map[string][]*fakeConn
}

func newFixture() *fixture {
	f := &fixture{note: &notifier{}, conns: make(map[string][]*fakeConn)}
	f.reg = registry.New(func(room string) registry.Connection {
		c := &fakeConn{}
		f.mu.Lock()
		f.conns[room] = append(f.conns[room], c)
		f.mu.Unlock()
		return c
	}, registry.Hooks{})
	f.mgr = NewManager(f.reg, f.note)
	return f
}

func (f *fixture) connCount(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[room])
}

func (f *fixture) membersMatch(t *testing.T, clientID string) {
	t.Helper()
	rooms, err := f.mgr.Rooms(clientID)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	for _, r := range rooms {
		room, ok := f.reg.Lookup(r)
		if !ok {
			t.Errorf("session has %q but registry does not", r)
			continue
		}
		found := false
		for _, s := range f.reg.Subscribers(room) {
			if s == clientID {
				found = true
			}
		}
		if !found {
			t.Errorf("%s not subscribed to %q", clientID, r)
		}
	}
	for _, info := range f.reg.Snapshot() {
		for _, s := range info.Subscribers {
			if s != clientID {
				continue
			}
			in := false
			for _, r := range rooms {
				if r == info.Name {
					in = true
				}
			}
			if !in {
				t.Errorf("registry has %s in %q but session does not", clientID, info.Name)
			}
		}
	}
}

func mustConnect(t *testing.T, m *Manager, id string) {
	t.Helper()
	if _, err := m.OnConnect(context.Background(), id); err != nil {
		t.Fatalf("OnConnect(%s): %v", id, err)
	}
}

func TestJoinLeaveDisconnectScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	mustConnect(t, f.mgr, "S1")
	mustConnect(t, f.mgr, "S2")

	f.mgr.OnJoin(ctx, "S1", "alice")
	f.mgr.OnJoin(ctx, "S2", "alice")
	f.mgr.OnJoin(ctx, "S2", "bob")

	if f.connCount("alice") != 1 || f.connCount("bob") != 1 {
		t.Fatalf("connections alice=%d bob=%d, want 1/1", f.connCount("alice"), f.connCount("bob"))
	}
	f.membersMatch(t, "S1")
	f.membersMatch(t, "S2")

	// S1 disconnects: alice stays open for S2.
	f.mgr.OnDisconnect(ctx, "S1")
	if got := f.reg.RefCount("alice"); got != 1 {
		t.Errorf("alice RefCount = %d, want 1", got)
	}

	// S2 leaves alice: alice closes and S2 is told.
	f.mgr.OnLeave(ctx, "S2", "alice")
	if _, ok := f.reg.Lookup("alice"); ok {
		t.Error("alice still open after last leave")
	}
	frames := f.note.get("S2")
	if len(frames) != 1 {
		t.Fatalf("S2 frames = %d, want 1", len(frames))
	}
	var env struct {
		Event string               `json:"event"`
		Data  domain.ClosedMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != domain.MsgTikTokClosed || env.Data.Username != "alice" {
		t.Errorf("frame = %+v, want tiktok:closed alice", env)
	}

	// S2 disconnects: bob closes.
	f.mgr.OnDisconnect(ctx, "S2")
	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d, want 0", f.reg.Len())
	}
	if f.mgr.Len() != 0 {
		t.Errorf("sessions = %d, want 0", f.mgr.Len())
	}
}

func TestJoinIgnoresEmptyAndDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mustConnect(t, f.mgr, "S1")

	if err := f.mgr.OnJoin(ctx, "S1", ""); err != nil {
		t.Errorf("empty join error = %v", err)
	}
	if f.reg.Len() != 0 {
		t.Error("empty room name created a room")
	}

	f.mgr.OnJoin(ctx, "S1", "alice")
	f.mgr.OnJoin(ctx, "S1", "alice")
	if got := f.reg.RefCount("alice"); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}

	f.mgr.OnLeave(ctx, "S1", "alice")
	if f.reg.Len() != 0 {
		t.Error("one leave after double join did not close the room")
	}
}

func TestLeaveNotJoinedIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	mustConnect(t, f.mgr, "S1")
	mustConnect(t, f.mgr, "S2")

	f.mgr.OnJoin(ctx, "S1", "alice")
	if err := f.mgr.OnLeave(ctx, "S2", "alice"); err != nil {
		t.Errorf("OnLeave error = %v", err)
	}
	if got := f.reg.RefCount("alice"); got != 1 {
		t.Errorf("RefCount = %d, want 1", got)
	}
	if len(f.note.get("S2")) != 0 {
		t.Error("non-member received a close frame")
	}
}

func TestJoinAfterDisconnectRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s, err := f.mgr.OnConnect(ctx, "S1")
	if err != nil {
		t.Fatalf("OnConnect: %v", err)
	}

	f.mgr.OnDisconnect(ctx, "S1")

	if err := f.mgr.OnJoin(ctx, "S1", "alice"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("join after disconnect error = %v, want %v", err, ErrSessionNotFound)
	}
	if !s.IsClosed() {
		t.Error("session not marked closed")
	}
	if f.reg.Len() != 0 {
		t.Error("join after disconnect created a room")
	}
}

func TestDuplicateConnect(t *testing.T) {
	f := newFixture()
	mustConnect(t, f.mgr, "S1")
	if _, err := f.mgr.OnConnect(context.Background(), "S1"); !errors.Is(err, ErrSessionExists) {
		t.Errorf("error = %v, want %v", err, ErrSessionExists)
	}
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		id := string(rune('A' + i))
		mustConnect(t, f.mgr, id)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				f.mgr.OnJoin(ctx, id, "alice")
				f.mgr.OnJoin(ctx, id, "bob")
				f.mgr.OnLeave(ctx, id, "alice")
			}
			f.mgr.OnDisconnect(ctx, id)
		}(id)
	}
	wg.Wait()

	if f.reg.Len() != 0 {
		t.Errorf("registry Len = %d, want 0", f.reg.Len())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for room, conns := range f.conns {
		for i, c := range conns {
			c.mu.Lock()
			if c.connected || c.disconnects != 1 {
				t.Errorf("%s conn %d: connected=%v disconnects=%d", room, i, c.connected, c.disconnects)
			}
			c.mu.Unlock()
		}
	}
}
