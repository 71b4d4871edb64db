package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

// Audit actions for the chat relay.
const (
	ActionConnect     = "chat.connect"
	ActionAuthFailed  = "chat.auth_failed"
	ActionSubscribe   = "chat.subscribe"
	ActionSendMessage = "chat.send_message"
	ActionMarkRead    = "chat.mark_read"
	ActionDisconnect  = "chat.disconnect"
	ActionReconcile   = "chat.presence_reconcile"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, identity string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldIdentity, identity).
		Msg(msg)
}

// LogTarget emits an audit entry about a specific room, message or connection.
func LogTarget(ctx context.Context, action string, identity string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldIdentity, identity).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
