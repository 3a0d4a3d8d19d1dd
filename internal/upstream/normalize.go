package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/weiawesome/live-relay/internal/domain"
)

type normalizer struct {
	kind domain.EventKind
	fn   func(payload json.RawMessage) (interface{}, error)
}

// normalizers is the dispatch table keyed by raw upstream event name.
// Raw events not listed here are dropped.
var normalizers = map[string]normalizer{
	domain.RawChat:          {domain.KindChat, normalizeChat},
	domain.RawGift:          {domain.KindGift, normalizeGift},
	domain.RawLike:          {domain.KindLike, normalizeLike},
	domain.RawFollow:        {domain.KindFollow, normalizeFollow},
	domain.RawRoomUser:      {domain.KindMemberJoin, normalizeRoomUser},
	domain.RawRoomUserLeave: {domain.KindMemberLeave, normalizeRoomUserLeave},
	domain.RawStreamStart:   {domain.KindStreamStart, constant(&domain.StreamStartPayload{Started: true})},
	domain.RawStreamEnd:     {domain.KindStreamEnd, constant(&domain.StreamEndPayload{Ended: true})},
	domain.RawConnect:       {domain.KindConnected, constant(&domain.ConnectedPayload{Connected: true})},
	domain.RawDisconnected:  {domain.KindDisconnected, constant(&domain.DisconnectedPayload{Disconnected: true})},
	domain.RawError:         {domain.KindError, normalizeError},
}

// Supported reports whether raw events named name are forwarded.
func Supported(name string) bool {
	_, ok := normalizers[name]
	return ok
}

// Normalize maps a raw event into the closed event union. ok is false for
// unsupported event names.
func Normalize(room string, raw RawEvent) (evt domain.Event, ok bool, err error) {
	n, found := normalizers[raw.Name]
	if !found {
		return domain.Event{}, false, nil
	}

	payload, err := n.fn(raw.Payload)
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("normalize %s: %w", raw.Name, err)
	}

	return domain.Event{
		Kind:       n.kind,
		Room:       room,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}, true, nil
}

// flexString accepts both JSON strings and numbers; platform user IDs come
// as either depending on the client library version.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

type rawUser struct {
	UserID   flexString `json:"userId"`
	Nickname string     `json:"nickname"`
}

type rawWithUser struct {
	User rawUser `json:"user"`
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}

func normalizeChat(payload json.RawMessage) (interface{}, error) {
	var raw struct {
		rawWithUser
		Comment string `json:"comment"`
	}
	if err := decode(payload, &raw); err != nil {
		return nil, err
	}
	return &domain.ChatPayload{
		UserID:  string(raw.User.UserID),
		User:    raw.User.Nickname,
		Comment: raw.Comment,
	}, nil
}

func normalizeGift(payload json.RawMessage) (interface{}, error) {
	var raw struct {
		rawWithUser
		GiftID      flexInt `json:"giftId"`
		RepeatCount flexInt `json:"repeatCount"`
	}
	if err := decode(payload, &raw); err != nil {
		return nil, err
	}
	return &domain.GiftPayload{
		UserID:      string(raw.User.UserID),
		User:        raw.User.Nickname,
		GiftID:      int64(raw.GiftID),
		RepeatCount: int64(raw.RepeatCount),
	}, nil
}

func normalizeLike(payload json.RawMessage) (interface{}, error) {
	var raw struct {
		rawWithUser
		LikeCount      flexInt `json:"likeCount"`
		TotalLikeCount flexInt `json:"totalLikeCount"`
	}
	if err := decode(payload, &raw); err != nil {
		return nil, err
	}
	return &domain.LikePayload{
		UserID:         string(raw.User.UserID),
		User:           raw.User.Nickname,
		LikeCount:      int64(raw.LikeCount),
		TotalLikeCount: int64(raw.TotalLikeCount),
	}, nil
}

func normalizeFollow(payload json.RawMessage) (interface{}, error) {
	var raw rawWithUser
	if err := decode(payload, &raw); err != nil {
		return nil, err
	}
	return &domain.FollowPayload{
		UserID: string(raw.User.UserID),
		User:   raw.User.Nickname,
	}, nil
}

func normalizeRoomUser(payload json.RawMessage) (interface{}, error) {
	var raw struct {
		ViewerCount flexInt `json:"viewerCount"`
	}
	if err := decode(payload, &raw); err != nil {
		return nil, err
	}
	return &domain.MemberJoinPayload{ViewerCount: int64(raw.ViewerCount)}, nil
}

func normalizeRoomUserLeave(payload json.RawMessage) (interface{}, error) {
	var raw rawWithUser
	if err := decode(payload, &raw); err != nil {
		return nil, err
	}
	return &domain.MemberLeavePayload{
		UserID: string(raw.User.UserID),
		User:   raw.User.Nickname,
	}, nil
}

// normalizeError never fails: whatever the platform reports becomes the
// error text.
func normalizeError(payload json.RawMessage) (interface{}, error) {
	p := &domain.ErrorPayload{Stage: domain.StageRuntime}

	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		p.Error = s
		return p, nil
	}

	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && (obj.Message != "" || obj.Error != "") {
		p.Error = obj.Message
		if p.Error == "" {
			p.Error = obj.Error
		}
		return p, nil
	}

	p.Error = string(bytes.TrimSpace(payload))
	return p, nil
}

func constant(v interface{}) func(json.RawMessage) (interface{}, error) {
	return func(json.RawMessage) (interface{}, error) {
		return v, nil
	}
}
