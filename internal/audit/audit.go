package audit

import (
	"context"

	"github.com/weiawesome/live-relay/pkg/log"
)

// Audit actions for the relay.
const (
	ActionConnect    = "relay.connect"
	ActionJoinRoom   = "relay.join_room"
	ActionLeaveRoom  = "relay.leave_room"
	ActionDisconnect = "relay.disconnect"
	ActionRoomOpen   = "relay.room_open"
	ActionRoomClose  = "relay.room_close"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, clientID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldClientID, clientID).
		Msg(msg)
}

// LogRoom emits an audit entry about a room on behalf of clientID.
func LogRoom(ctx context.Context, action string, clientID string, room string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldClientID, clientID).
		Str(log.FieldRoom, room).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, clientID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldClientID, clientID).
		Str(FieldDetail, detail).
		Msg(msg)
}
