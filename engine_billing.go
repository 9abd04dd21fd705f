package mfaauth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nutricoach/mfaauth/billing"
)

// SyncBilling recomputes the billing projection for targetAccountID, or for
// the caller when it is empty. Syncing another account requires
// PermBillingSyncAny. Unlike the implicit syncs after login and enrollment,
// local store failures are returned.
func (e *Engine) SyncBilling(ctx context.Context, actor Principal, targetAccountID string) (*billing.Result, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if actor.AccountID == "" {
		return nil, ErrUnauthorized
	}
	target := strings.TrimSpace(targetAccountID)
	if target == "" {
		target = actor.AccountID
	}
	if target != actor.AccountID && !e.roles.Allows(actor.Role, PermBillingSyncAny) {
		e.metricInc(MetricPermissionDenied)
		e.logger.Warn("cross-account billing sync denied", "actor_id", actor.AccountID, "role", actor.Role, "granted", e.roles.Granted(actor.Role))
		return nil, ErrPermissionDenied
	}

	account, err := e.loadAccount(ctx, target)
	if err != nil {
		return nil, err
	}
	count, err := e.store.CountConfirmedFactors(ctx, account.ID)
	if err != nil {
		return nil, e.internalError("billing_sync", account.ID, err)
	}
	mfaActive := count > 0

	if e.billing == nil {
		return &billing.Result{}, nil
	}
	syncCtx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Billing)
	defer cancel()
	result, err := e.billing.SyncMFAState(syncCtx, account.ID, account.Email, mfaActive)
	if err != nil {
		e.metricInc(MetricBillingFailed)
		return nil, e.internalError("billing_sync", account.ID, fmt.Errorf("billing sync: %w", err))
	}
	if result.Synced {
		e.metricInc(MetricBillingSynced)
	} else {
		e.metricInc(MetricBillingLocalOnly)
	}

	e.emitAudit(ctx, auditEventBillingSynced, true, account.ID, actor.AccountID, nil, func() map[string]string {
		return map[string]string{
			"synced":         strconv.FormatBool(result.Synced),
			"premium_locked": strconv.FormatBool(result.PremiumLocked),
			"mfa_active":     strconv.FormatBool(mfaActive),
		}
	})
	return result, nil
}
