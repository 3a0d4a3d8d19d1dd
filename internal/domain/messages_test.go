package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFrameForEvent(t *testing.T) {
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{
			name: "chat",
			evt:  Event{Kind: KindChat, Payload: &ChatPayload{UserID: "1", User: "a", Comment: "hi"}},
			want: `{"event":"tiktok:event","data":{"event":"chat","data":{"userId":"1","user":"a","comment":"hi"}}}`,
		},
		{
			name: "member join uses raw name",
			evt:  Event{Kind: KindMemberJoin, Payload: &MemberJoinPayload{ViewerCount: 12}},
			want: `{"event":"tiktok:event","data":{"event":"roomUser","data":{"viewerCount":12}}}`,
		},
		{
			name: "runtime error stays an event",
			evt:  Event{Kind: KindError, Payload: &ErrorPayload{Error: "boom", Stage: StageRuntime}},
			want: `{"event":"tiktok:event","data":{"event":"error","data":{"error":"boom"}}}`,
		},
		{
			name: "connect failure",
			evt:  NewConnectFailedEvent("r", errors.New("offline")),
			want: `{"event":"tiktok:error","data":{"message":"connect_failed","error":"offline"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FrameForEvent(tt.evt)
			if err != nil {
				t.Fatalf("FrameForEvent: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("frame = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewFrameWithoutData(t *testing.T) {
	got, err := NewFrame(MsgPong, nil)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if string(got) != `{"event":"pong"}` {
		t.Errorf("frame = %s", got)
	}
}

func TestEnvelopeDecode(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"event":"join","data":{"username":"alice"}}`), &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var req RoomRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		t.Fatalf("Unmarshal data: %v", err)
	}
	if env.Event != MsgJoin || req.Username != "alice" {
		t.Errorf("decoded %q %q", env.Event, req.Username)
	}
}

func TestSessionRooms(t *testing.T) {
	s := NewSession("s1")
	s.Lock()
	s.AddRoom("bob")
	s.AddRoom("alice")
	s.AddRoom("alice")
	s.Unlock()

	rooms := s.Rooms()
	if len(rooms) != 2 || rooms[0] != "alice" || rooms[1] != "bob" {
		t.Fatalf("Rooms = %v, want [alice bob]", rooms)
	}

	s.Lock()
	closed := s.Close()
	isClosed := s.IsClosed()
	s.Unlock()

	if len(closed) != 2 {
		t.Errorf("Close returned %v", closed)
	}
	if !isClosed {
		t.Error("session not closed")
	}
	if len(s.Rooms()) != 0 {
		t.Error("rooms not cleared on Close")
	}
}
