package mfaauth

import (
	"context"
	"errors"

	"github.com/nutricoach/mfaauth/internal/audit"
)

const (
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventMFARequired             = "mfa_required"
	auditEventMFAFailure              = "mfa_failure"
	auditEventMFARateLimited          = "mfa_rate_limited"
	auditEventTOTPEnrollmentStarted   = "totp_enrollment_started"
	auditEventTOTPEnrollmentConfirmed = "totp_enrollment_confirmed"
	auditEventTOTPEnrollmentFailed    = "totp_enrollment_failed"
	auditEventBackupCodesGenerated    = "backup_codes_generated"
	auditEventBackupCodeUsed          = "backup_code_used"
	auditEventPasskeyChallengeIssued  = "passkey_challenge_issued"
	auditEventPasskeyRegistered       = "passkey_registered"
	auditEventPasskeyRegisterFailed   = "passkey_register_failed"
	auditEventPasskeyRevoked          = "passkey_revoked"
	auditEventOverrideIssued          = "override_issued"
	auditEventOverrideRedeemed        = "override_redeemed"
	auditEventTrustedDeviceAdded      = "trusted_device_added"
	auditEventTrustedDeviceRevoked    = "trusted_device_revoked"
	auditEventBillingSynced           = "billing_synced"
)

// AuditErrorCode is the stable error label stored on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrOverrideInvalid    AuditErrorCode = "override_invalid"
	auditErrOverrideExpired    AuditErrorCode = "override_expired"
	auditErrTOTPInvalid        AuditErrorCode = "totp_invalid"
	auditErrTOTPReplayed       AuditErrorCode = "totp_replayed"
	auditErrBackupCodeUsed     AuditErrorCode = "backup_code_used"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrChallengeExpired   AuditErrorCode = "challenge_expired"
	auditErrPasskeyInvalid     AuditErrorCode = "passkey_invalid"
	auditErrCounterRegressed   AuditErrorCode = "passkey_counter_regressed"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	actorID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: e.clock(),
		EventType: eventType,
		AccountID: accountID,
		ActorID:   actorID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrMFARateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrOverrideInvalid):
		return auditErrOverrideInvalid
	case errors.Is(err, ErrOverrideExpired):
		return auditErrOverrideExpired
	case errors.Is(err, ErrTOTPInvalid):
		return auditErrTOTPInvalid
	case errors.Is(err, ErrTOTPReplayed):
		return auditErrTOTPReplayed
	case errors.Is(err, ErrBackupCodeUsed):
		return auditErrBackupCodeUsed
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrPasskeyInvalid):
		return auditErrPasskeyInvalid
	case errors.Is(err, ErrPasskeyCounterRegressed):
		return auditErrCounterRegressed
	case errors.Is(err, ErrPasskeyAlreadyRegistered):
		return auditErrDuplicate
	case errors.Is(err, ErrMFAUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
