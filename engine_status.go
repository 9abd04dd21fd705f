package mfaauth

import (
	"context"
	"errors"

	"github.com/nutricoach/mfaauth/credential"
)

// Status reports the account's factors without exposing secrets.
func (e *Engine) Status(ctx context.Context, accountID string) (*MFAStatus, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &MFAStatus{
		MFARequired:       account.MFARequired,
		MFAEnrolled:       account.MFAEnrolled,
		MFAVerifiedAt:     account.MFAVerifiedAt,
		PremiumLocked:     account.PremiumLocked,
		PremiumLockReason: account.PremiumLockReason,
	}

	factor, err := e.store.GetTOTPFactor(ctx, account.ID)
	switch {
	case err == nil:
		status.TOTPConfirmed = factor.Confirmed()
		status.TOTPPending = !factor.Confirmed()
	case errors.Is(err, credential.ErrNotFound):
	default:
		return nil, e.internalError("status", account.ID, err)
	}

	registered, err := e.store.ListPasskeys(ctx, account.ID)
	if err != nil {
		return nil, e.internalError("status", account.ID, err)
	}
	status.Passkeys = make([]PasskeySummary, 0, len(registered))
	for _, p := range registered {
		status.Passkeys = append(status.Passkeys, PasskeySummary{
			ID:           p.ID,
			FriendlyName: p.FriendlyName,
			Transports:   p.Transports,
			LastUsedAt:   p.LastUsedAt,
			CreatedAt:    p.CreatedAt,
		})
	}

	status.BackupCodesRemaining, err = e.store.CountRemainingBackupCodes(ctx, account.ID)
	if err != nil {
		return nil, e.internalError("status", account.ID, err)
	}
	return status, nil
}
