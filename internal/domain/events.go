package domain

import "time"

// EventKind is the closed set of normalized live-stream events.
type EventKind int

const (
	KindChat EventKind = iota + 1
	KindGift
	KindLike
	KindFollow
	KindMemberJoin
	KindMemberLeave
	KindStreamStart
	KindStreamEnd
	KindConnected
	KindDisconnected
	KindError
)

// Raw upstream event names. They double as the wire name of each kind so
// clients written against the upstream library keep working.
const (
	RawChat          = "chat"
	RawGift          = "gift"
	RawLike          = "like"
	RawFollow        = "follow"
	RawRoomUser      = "roomUser"
	RawRoomUserLeave = "roomUserLeave"
	RawStreamStart   = "streamStart"
	RawStreamEnd     = "streamEnd"
	RawConnect       = "connect"
	RawDisconnected  = "disconnected"
	RawError         = "error"
)

var kindNames = map[EventKind]string{
	KindChat:         RawChat,
	KindGift:         RawGift,
	KindLike:         RawLike,
	KindFollow:       RawFollow,
	KindMemberJoin:   RawRoomUser,
	KindMemberLeave:  RawRoomUserLeave,
	KindStreamStart:  RawStreamStart,
	KindStreamEnd:    RawStreamEnd,
	KindConnected:    RawConnect,
	KindDisconnected: RawDisconnected,
	KindError:        RawError,
}

// WireName returns the event name sent to clients.
func (k EventKind) WireName() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k EventKind) String() string {
	return k.WireName()
}

// ErrorStage tells where an error-kind event originated.
type ErrorStage string

const (
	StageConnect ErrorStage = "connect"
	StageRuntime ErrorStage = "runtime"
)

// Event is a normalized upstream event for one room. Payload holds one of
// the *Payload types below, matching Kind.
type Event struct {
	Kind       EventKind
	Room       string
	Payload    interface{}
	ReceivedAt time.Time
}

type ChatPayload struct {
	UserID  string `json:"userId"`
	User    string `json:"user"`
	Comment string `json:"comment"`
}

type GiftPayload struct {
	UserID      string `json:"userId"`
	User        string `json:"user"`
	GiftID      int64  `json:"giftId"`
	RepeatCount int64  `json:"repeatCount"`
}

type LikePayload struct {
	UserID         string `json:"userId"`
	User           string `json:"user"`
	LikeCount      int64  `json:"likeCount"`
	TotalLikeCount int64  `json:"totalLikeCount"`
}

type FollowPayload struct {
	UserID string `json:"userId"`
	User   string `json:"user"`
}

type MemberJoinPayload struct {
	ViewerCount int64 `json:"viewerCount"`
}

type MemberLeavePayload struct {
	UserID string `json:"userId"`
	User   string `json:"user"`
}

type StreamStartPayload struct {
	Started bool `json:"started"`
}

type StreamEndPayload struct {
	Ended bool `json:"ended"`
}

type ConnectedPayload struct {
	Connected bool `json:"connected"`
}

type DisconnectedPayload struct {
	Disconnected bool `json:"disconnected"`
}

type ErrorPayload struct {
	Error string     `json:"error"`
	Stage ErrorStage `json:"-"`
}

// NewConnectFailedEvent builds the error event reported when the upstream
// connection could not be established.
func NewConnectFailedEvent(room string, err error) Event {
	return Event{
		Kind:       KindError,
		Room:       room,
		Payload:    &ErrorPayload{Error: err.Error(), Stage: StageConnect},
		ReceivedAt: time.Now(),
	}
}

// IsConnectFailure reports whether e is a failed upstream connect.
func (e Event) IsConnectFailure() bool {
	if e.Kind != KindError {
		return false
	}
	p, ok := e.Payload.(*ErrorPayload)
	return ok && p.Stage == StageConnect
}
