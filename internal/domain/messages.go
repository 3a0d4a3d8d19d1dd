package domain

import "encoding/json"

// WebSocket events from client.
const (
	MsgJoin  = "join"
	MsgLeave = "leave"
	MsgPing  = "ping"
)

// WebSocket events to client.
const (
	MsgTikTokEvent  = "tiktok:event"
	MsgTikTokError  = "tiktok:error"
	MsgTikTokClosed = "tiktok:closed"
	MsgPong         = "pong"
)

// ErrMsgConnectFailed is the message of a tiktok:error sent when the
// upstream connect fails.
const ErrMsgConnectFailed = "connect_failed"

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client -> Server payloads

type RoomRequest struct {
	Username string `json:"username"`
}

// Server -> Client payloads

type EventMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type ErrorMessage struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type ClosedMessage struct {
	Username string `json:"username"`
}

// NewFrame marshals an outbound frame.
func NewFrame(event string, data interface{}) ([]byte, error) {
	out := struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data,omitempty"`
	}{Event: event, Data: data}
	return json.Marshal(out)
}

// FrameForEvent converts a normalized event into its outbound frame.
func FrameForEvent(e Event) ([]byte, error) {
	if e.IsConnectFailure() {
		p := e.Payload.(*ErrorPayload)
		return NewFrame(MsgTikTokError, &ErrorMessage{
			Message: ErrMsgConnectFailed,
			Error:   p.Error,
		})
	}
	return NewFrame(MsgTikTokEvent, &EventMessage{
		Event: e.Kind.WireName(),
		Data:  e.Payload,
	})
}
