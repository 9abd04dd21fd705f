package mfaauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/internal"
)

const maxFriendlyNameLen = 64

// StartTOTPEnrollment provisions a fresh secret and replaces any existing
// TOTP factor with an unconfirmed one. A previously confirmed TOTP factor
// stops counting toward enrollment immediately.
func (e *Engine) StartTOTPEnrollment(ctx context.Context, accountID, friendlyName string) (*TOTPEnrollment, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	friendlyName = strings.TrimSpace(friendlyName)
	if friendlyName == "" {
		friendlyName = "Authenticator app"
	}
	if len(friendlyName) > maxFriendlyNameLen {
		return nil, fmt.Errorf("%w: friendly name too long", ErrInvalidRequest)
	}

	secret, uri, err := e.totp.GenerateSecret(account.Email)
	if err != nil {
		return nil, e.internalError("totp_start", account.ID, err)
	}

	var enrolled bool
	err = e.store.InTx(ctx, func(tx credential.Store) error {
		if _, err := tx.UpsertTOTPFactor(ctx, account.ID, secret, friendlyName, e.clock()); err != nil {
			return err
		}
		count, err := tx.CountConfirmedFactors(ctx, account.ID)
		if err != nil {
			return err
		}
		enrolled = count > 0
		return tx.SetMFAEnrolled(ctx, account.ID, enrolled)
	})
	if err != nil {
		return nil, e.internalError("totp_start", account.ID, err)
	}

	if account.MFAEnrolled && !enrolled {
		e.syncBilling(ctx, "totp_start", account, false)
	}

	e.metricInc(MetricTOTPEnrollmentStarted)
	e.emitAudit(ctx, auditEventTOTPEnrollmentStarted, true, account.ID, account.ID, nil, nil)
	return &TOTPEnrollment{Secret: secret, OTPAuthURI: uri}, nil
}

// ConfirmTOTPEnrollment verifies code against the pending secret. On success
// the factor is confirmed, the backup-code batch is replaced, and the new
// plaintext codes are returned once. A wrong code changes nothing except the
// failed-attempt counter.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, accountID, code, deviceFingerprint, deviceName string) (*TOTPConfirmation, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	deviceHash := ""
	if strings.TrimSpace(deviceFingerprint) != "" {
		deviceHash, err = internal.HashFingerprint(account.ID, deviceFingerprint)
		if err != nil {
			return nil, ErrInvalidRequest
		}
	}

	if err := e.checkMFAAttempts(ctx, account.ID); err != nil {
		return nil, err
	}

	factor, err := e.store.GetTOTPFactor(ctx, account.ID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrTOTPNotPending
		}
		return nil, e.internalError("totp_confirm", account.ID, err)
	}
	if factor.Confirmed() {
		return nil, ErrTOTPNotPending
	}

	ok, step, err := e.totp.VerifyCode(factor.Secret, code, e.clock())
	if err != nil {
		return nil, e.internalError("totp_confirm", account.ID, err)
	}
	if !ok {
		e.recordMFAFailure(ctx, account.ID)
		e.emitAudit(ctx, auditEventTOTPEnrollmentFailed, false, account.ID, account.ID, ErrTOTPInvalid, nil)
		return nil, ErrTOTPInvalid
	}

	now := e.clock()
	codes, plaintext, err := e.newBackupCodes(account.ID, now)
	if err != nil {
		return nil, e.internalError("totp_confirm", account.ID, err)
	}

	trusted := false
	err = e.store.InTx(ctx, func(tx credential.Store) error {
		confirmed, err := tx.ConfirmTOTPFactor(ctx, factor.ID, factor.Secret, now)
		if err != nil {
			return err
		}
		if !confirmed {
			// Confirmed concurrently, or replaced by a newer enrollment.
			return ErrTOTPNotPending
		}
		if _, err := tx.AdvanceTOTPStep(ctx, factor.ID, step); err != nil {
			return err
		}
		if err := tx.ReplaceBackupCodes(ctx, account.ID, codes); err != nil {
			return err
		}
		if err := tx.SetMFAEnrolled(ctx, account.ID, true); err != nil {
			return err
		}
		if err := tx.StampMFAVerified(ctx, account.ID, now); err != nil {
			return err
		}
		if deviceHash != "" {
			if _, err := tx.UpsertTrustedDevice(ctx, account.ID, deviceHash, e.deviceName(ctx, deviceName), now); err != nil {
				return err
			}
			trusted = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrTOTPNotPending) {
			return nil, err
		}
		return nil, e.internalError("totp_confirm", account.ID, err)
	}

	if err := e.limiter.Reset(ctx, account.ID); err != nil {
		e.logger.Warn("mfa attempt counter not reset", "op", "totp_confirm", "account_id", account.ID, "error", err)
	}

	result := &TOTPConfirmation{
		BackupCodes: plaintext,
		Billing:     e.syncBilling(ctx, "totp_confirm", account, true),
	}

	e.metricInc(MetricTOTPEnrollmentConfirmed)
	e.metricInc(MetricBackupCodesRegenerated)
	if trusted {
		e.metricInc(MetricDeviceTrusted)
		e.emitAudit(ctx, auditEventTrustedDeviceAdded, true, account.ID, account.ID, nil, nil)
	}
	e.emitAudit(ctx, auditEventTOTPEnrollmentConfirmed, true, account.ID, account.ID, nil, nil)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"reason": "totp_confirm", "count": fmt.Sprint(len(plaintext))}
	})
	return result, nil
}
