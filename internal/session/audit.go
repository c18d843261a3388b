package session

import (
	"context"
	"errors"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/yogamat/auth-session/internal/serviceerr"
)

const auditInitiator = "auth-session"

// WithAuditLogger sends a user login event for every completed callback.
func WithAuditLogger(l *otlpaudit.AuditLogger) ManagerOption {
	return func(m *Manager) {
		m.audit = l
	}
}

// auditLogin records the outcome of a callback. Errors are logged and never
// returned to the caller.
func (m *Manager) auditLogin(ctx context.Context, loginErr error) {
	if m.audit == nil {
		return
	}

	objectID := m.client.ClientID()

	metadata, err := otlpaudit.NewEventMetadata(auditInitiator, objectID, uuid.NewString())
	if err != nil {
		slogctx.Error(ctx, "Creating audit metadata", "error", err)
		return
	}

	if loginErr == nil {
		event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, objectID,
			otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, objectID)
		if err != nil {
			slogctx.Error(ctx, "Creating audit log", "error", err)
			return
		}

		if err := m.audit.SendEvent(ctx, event); err != nil {
			slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
			return
		}
	} else {
		event, err := otlpaudit.NewUserLoginFailureEvent(metadata, objectID,
			otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(failReason(loginErr)), objectID)
		if err != nil {
			slogctx.Error(ctx, "Creating audit log", "error", err)
			return
		}

		if err := m.audit.SendEvent(ctx, event); err != nil {
			slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
			return
		}
	}

	slogctx.Debug(ctx, "Sent audit log for user login", "success", loginErr == nil)
}

func failReason(err error) string {
	var serviceErr *serviceerr.Error
	if errors.As(err, &serviceErr) {
		return string(serviceErr.Err)
	}

	return string(serviceerr.CodeServerError)
}
