package tiergate

import (
	"context"
	"errors"
	"strconv"
)

const (
	auditEventGateRejected       = "gate_rejected"
	auditEventGateFailOpen       = "gate_fail_open"
	auditEventGateStoreError     = "gate_store_error"
	auditEventAuthRejected       = "auth_rejected"
	auditEventAuthForbidden      = "auth_forbidden"
	auditEventTokenRevoked       = "token_revoked"
	auditEventDependencyDegraded = "dependency_degraded"
)

// AuditErrorCode is the stable error classification written into audit events.
type AuditErrorCode string

const (
	auditErrUnauthenticated  AuditErrorCode = "unauthenticated"
	auditErrForbidden        AuditErrorCode = "forbidden"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrStoreUnavailable AuditErrorCode = "store_unavailable"
	auditErrInvalidQuota     AuditErrorCode = "invalid_quota"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(ctx context.Context, eventType string, id Identity, path string, success bool, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		EventType: eventType,
		Path:      path,
		Success:   success,
		Metadata:  metadata,
	}
	event.Stamp(e.now())

	switch v := id.(type) {
	case AuthenticatedUser:
		event.IdentityKey = v.Key()
		event.UserID = strconv.FormatInt(v.ID, 10)
	case AnonymousCaller:
		event.IdentityKey = v.Key()
		event.IP = v.ClientAddress
	}
	if err != nil {
		event.Error = string(auditErrorCode(err))
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrInvalidQuota):
		return auditErrInvalidQuota
	default:
		return auditErrInternal
	}
}
