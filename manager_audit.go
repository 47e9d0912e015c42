package sessionkit

import (
	"context"
	"errors"
)

const (
	auditEventSignInSuccess       = "sign_in_success"
	auditEventSignInFailure       = "sign_in_failure"
	auditEventSignInRateLimited   = "sign_in_rate_limited"
	auditEventSignOut             = "sign_out"
	auditEventForcedSignOut       = "forced_sign_out"
	auditEventRevokeSuccess       = "remote_revoke_success"
	auditEventRevokeFailure       = "remote_revoke_failure"
	auditEventProfileMissing      = "profile_missing"
	auditEventSessionRestored     = "session_restored"
	auditEventRestoreFailed       = "session_restore_failed"
	auditEventExternalChange      = "external_session_change"
	auditEventRegisterSuccess     = "register_success"
	auditEventRegisterFailure     = "register_failure"
	auditEventRegisterRateLimited = "register_rate_limited"
	auditEventConfirmationResent  = "confirmation_resent"
	auditEventRecoveryRequest     = "recovery_request"
	auditEventRecoveryResend      = "recovery_resend"
	auditEventRecoveryVerify      = "recovery_verify"
	auditEventRecoveryComplete    = "recovery_complete"
	auditEventRecoveryRateLimited = "recovery_rate_limited"
	auditEventPendingDismissed    = "pending_confirmation_dismissed"
)

// AuditErrorCode is the stable, secret-free error label stored in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrProfileMissing     AuditErrorCode = "profile_missing"
	auditErrUnavailable        AuditErrorCode = "provider_unavailable"
	auditErrTimeout            AuditErrorCode = "timeout"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrTooSoon            AuditErrorCode = "too_soon"
	auditErrSuperseded         AuditErrorCode = "superseded"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (m *Manager) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if m == nil || m.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = rid
	}

	event := AuditEvent{
		Timestamp: m.clock.Now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	m.audit.Emit(ctx, event)
}

// flowAudit adapts emitAudit to the flows package hook.
func (m *Manager) flowAudit(ctx context.Context, event string, success bool, subjectID string, err error, meta func() map[string]string) {
	m.emitAudit(ctx, event, success, subjectID, "", err, meta)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrProfileMissing):
		return auditErrProfileMissing
	case errors.Is(err, ErrProviderUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrTimeout):
		return auditErrTimeout
	case errors.Is(err, ErrIdentityExists):
		return auditErrDuplicate
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrTooSoon):
		return auditErrTooSoon
	case errors.Is(err, ErrSuperseded):
		return auditErrSuperseded
	default:
		return auditErrInternal
	}
}
