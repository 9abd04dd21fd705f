package mfaauth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/internal/audit"
	"github.com/nutricoach/mfaauth/internal/limiters"
	"github.com/nutricoach/mfaauth/internal/stores"
	"github.com/nutricoach/mfaauth/permission"
)

// Engine runs the login state machine and the MFA enrollment flows.
//
// An Engine holds no per-request state. Every single-use transition is
// delegated to the credential store or Redis as an atomic operation, so one
// Engine may serve any number of concurrent requests.
type Engine struct {
	config     Config
	logger     *slog.Logger
	store      credential.Store
	identity   IdentityProvider
	billing    BillingSyncer
	limiter    *limiters.AttemptLimiter
	challenges *stores.ChallengeLedger
	passkeys   passkeyCeremony
	totp       *totpManager
	roles      *permission.RoleManager
	audit      *audit.Dispatcher
	metrics    *Metrics
	now        func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Authenticate resolves a bearer token issued by the identity provider.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if e == nil || e.identity == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	principal, err := e.identity.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return principal, nil
}

// Can reports whether role holds permission.
func (e *Engine) Can(role, permission string) bool {
	if e == nil {
		return false
	}
	return e.roles.Allows(role, permission)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// loadAccount maps a missing account to ErrAccountNotFound.
func (e *Engine) loadAccount(ctx context.Context, accountID string) (*credential.Account, error) {
	if accountID == "" {
		return nil, ErrInvalidRequest
	}
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// syncBilling runs the billing projection under the billing timeout.
// Failures are logged and reported as a nil result.
func (e *Engine) syncBilling(ctx context.Context, op string, account *credential.Account, mfaActive bool) *billing.Result {
	if e.billing == nil {
		return nil
	}
	syncCtx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Billing)
	defer cancel()

	result, err := e.billing.SyncMFAState(syncCtx, account.ID, account.Email, mfaActive)
	if err != nil {
		e.metricInc(MetricBillingFailed)
		e.logger.Warn("billing sync failed",
			"op", op, "account_id", account.ID, "error", err)
		return nil
	}
	if result.Synced {
		e.metricInc(MetricBillingSynced)
	} else {
		e.metricInc(MetricBillingLocalOnly)
	}
	return result
}

// internalError logs err with context and returns it unchanged. Handlers
// translate unknown errors into a generic response.
func (e *Engine) internalError(op, accountID string, err error) error {
	e.logger.Error("mfa operation failed", "op", op, "account_id", accountID, "error", err)
	return err
}
