package upstream

import (
	"encoding/json"
	"testing"

	"github.com/weiawesome/live-relay/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawEvent
		kind    domain.EventKind
		payload interface{}
	}{
		{
			name: "chat keeps user and comment",
			raw:  RawEvent{Name: "chat", Payload: json.RawMessage(`{"user":{"userId":"42","nickname":"ann","avatar":"x"},"comment":"hi","extra":1}`)},
			kind: domain.KindChat,
			payload: &domain.ChatPayload{
				UserID: "42", User: "ann", Comment: "hi",
			},
		},
		{
			name: "numeric user id",
			raw:  RawEvent{Name: "follow", Payload: json.RawMessage(`{"user":{"userId":7001,"nickname":"bo"}}`)},
			kind: domain.KindFollow,
			payload: &domain.FollowPayload{
				UserID: "7001", User: "bo",
			},
		},
		{
			name: "gift with string counts",
			raw:  RawEvent{Name: "gift", Payload: json.RawMessage(`{"user":{"userId":"1","nickname":"c"},"giftId":"5655","repeatCount":3}`)},
			kind: domain.KindGift,
			payload: &domain.GiftPayload{
				UserID: "1", User: "c", GiftID: 5655, RepeatCount: 3,
			},
		},
		{
			name: "like",
			raw:  RawEvent{Name: "like", Payload: json.RawMessage(`{"user":{"userId":"1","nickname":"c"},"likeCount":15,"totalLikeCount":1200}`)},
			kind: domain.KindLike,
			payload: &domain.LikePayload{
				UserID: "1", User: "c", LikeCount: 15, TotalLikeCount: 1200,
			},
		},
		{
			name:    "room user",
			raw:     RawEvent{Name: "roomUser", Payload: json.RawMessage(`{"viewerCount":321,"topViewers":[]}`)},
			kind:    domain.KindMemberJoin,
			payload: &domain.MemberJoinPayload{ViewerCount: 321},
		},
		{
			name:    "room user leave",
			raw:     RawEvent{Name: "roomUserLeave", Payload: json.RawMessage(`{"user":{"userId":"9","nickname":"d"}}`)},
			kind:    domain.KindMemberLeave,
			payload: &domain.MemberLeavePayload{UserID: "9", User: "d"},
		},
		{
			name:    "stream end without payload",
			raw:     RawEvent{Name: "streamEnd"},
			kind:    domain.KindStreamEnd,
			payload: &domain.StreamEndPayload{Ended: true},
		},
		{
			name:    "error string",
			raw:     RawEvent{Name: "error", Payload: json.RawMessage(`"rate limited"`)},
			kind:    domain.KindError,
			payload: &domain.ErrorPayload{Error: "rate limited", Stage: domain.StageRuntime},
		},
		{
			name:    "error object",
			raw:     RawEvent{Name: "error", Payload: json.RawMessage(`{"message":"boom"}`)},
			kind:    domain.KindError,
			payload: &domain.ErrorPayload{Error: "boom", Stage: domain.StageRuntime},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, ok, err := Normalize("room", tt.raw)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !ok {
				t.Fatal("Normalize dropped a supported event")
			}
			if evt.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", evt.Kind, tt.kind)
			}
			if evt.Room != "room" {
				t.Errorf("room = %q, want %q", evt.Room, "room")
			}

			got, _ := json.Marshal(evt.Payload)
			want, _ := json.Marshal(tt.payload)
			if string(got) != string(want) {
				t.Errorf("payload = %s, want %s", got, want)
			}
		})
	}
}

func TestNormalizeUnknownEventDropped(t *testing.T) {
	for _, name := range []string{"share", "envelope", "questionNew", ""} {
		_, ok, err := Normalize("room", RawEvent{Name: name, Payload: json.RawMessage(`{}`)})
		if err != nil {
			t.Errorf("Normalize(%q) error = %v", name, err)
		}
		if ok {
			t.Errorf("Normalize(%q) ok = true, want false", name)
		}
		if Supported(name) {
			t.Errorf("Supported(%q) = true", name)
		}
	}
}

func TestNormalizeMalformedPayload(t *testing.T) {
	_, ok, err := Normalize("room", RawEvent{Name: "chat", Payload: json.RawMessage(`{"comment":5}`)})
	if err == nil {
		t.Fatal("expected error for malformed chat payload")
	}
	if ok {
		t.Error("ok = true for malformed payload")
	}
}

func TestEventWireNameIsRawName(t *testing.T) {
	evt, ok, err := Normalize("room", RawEvent{Name: "roomUser", Payload: json.RawMessage(`{}`)})
	if err != nil || !ok {
		t.Fatalf("Normalize: ok=%v err=%v", ok, err)
	}
	if got := evt.Kind.WireName(); got != "roomUser" {
		t.Errorf("WireName = %q, want %q", got, "roomUser")
	}
}
