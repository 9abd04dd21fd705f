// Package billing projects an account's MFA state into the billing
// provider's customer record and into the local premium lock.
//
// Without a provider client the adapter runs local-only: the premium lock is
// still computed and stored, and the result reports Synced=false. Provider
// failures degrade the same way and are never returned to the caller.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nutricoach/mfaauth/credential"
)

// LockReasonMFARequired is stored when premium is locked for missing MFA.
const LockReasonMFARequired = "mfa_required"

// Metadata keys written onto the customer record.
const (
	MetadataAccountID     = "account_id"
	MetadataMFAEnabled    = "mfa_enabled"
	MetadataMFASyncedAt   = "mfa_synced_at"
	MetadataPremiumLocked = "premium_locked"
)

// Customer is the provider's customer record.
type Customer struct {
	ID       string
	Email    string
	Metadata map[string]string
}

// CustomerClient is the narrow provider interface the adapter needs.
// FindCustomerByEmail returns (nil, nil) when no customer exists.
type CustomerClient interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*Customer, error)
	UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error
}

// AccountStore is the subset of credential.Store the adapter writes to.
type AccountStore interface {
	GetAccount(ctx context.Context, accountID string) (*credential.Account, error)
	SetPremiumLock(ctx context.Context, accountID string, locked bool, reason string) (bool, error)
	SetBillingCustomerID(ctx context.Context, accountID, customerID string) error
}

// Entitlements revokes premium-gated content grants.
type Entitlements interface {
	RevokePremiumUnlocks(ctx context.Context, accountID string) (int64, error)
}

// Result reports one sync.
type Result struct {
	Synced        bool
	CustomerID    string
	PremiumLocked bool
	RevokedGrants int64
}

// Config tunes the adapter.
type Config struct {
	Timeout time.Duration
	// Now stamps mfa_synced_at. Defaults to time.Now.
	Now func() time.Time
}

// Adapter implements the MFA billing projection.
type Adapter struct {
	client       CustomerClient
	store        AccountStore
	entitlements Entitlements
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
	lookups      singleflight.Group
}

// NewAdapter builds an adapter. A nil client selects local-only mode.
func NewAdapter(client CustomerClient, store AccountStore, entitlements Entitlements, cfg Config, logger *slog.Logger) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		client:       client,
		store:        store,
		entitlements: entitlements,
		cfg:          cfg,
		logger:       logger,
		now:          now,
	}
}

// RemoteEnabled reports whether a provider client is configured.
func (a *Adapter) RemoteEnabled() bool {
	return a.client != nil
}

// SyncMFAState recomputes the premium lock and pushes MFA state to the
// provider. Only local store failures are returned as errors.
func (a *Adapter) SyncMFAState(ctx context.Context, accountID, email string, mfaActive bool) (*Result, error) {
	account, err := a.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("billing: load account: %w", err)
	}
	if email == "" {
		email = account.Email
	}

	locked := !mfaActive && account.HasPaidTier()
	reason := ""
	if locked {
		reason = LockReasonMFARequired
	}
	wasLocked, err := a.store.SetPremiumLock(ctx, accountID, locked, reason)
	if err != nil {
		return nil, fmt.Errorf("billing: store premium lock: %w", err)
	}

	result := &Result{PremiumLocked: locked}
	if locked && !wasLocked && a.entitlements != nil {
		revoked, err := a.entitlements.RevokePremiumUnlocks(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("billing: revoke premium unlocks: %w", err)
		}
		result.RevokedGrants = revoked
	}

	if a.client == nil {
		return result, nil
	}

	remoteCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	metadata := map[string]string{
		MetadataAccountID:     accountID,
		MetadataMFAEnabled:    strconv.FormatBool(mfaActive),
		MetadataMFASyncedAt:   a.now().UTC().Format(time.RFC3339),
		MetadataPremiumLocked: strconv.FormatBool(locked),
	}

	customerID, err := a.resolveCustomer(remoteCtx, account, email, metadata)
	if err != nil {
		a.logger.Warn("billing customer lookup failed, continuing local-only",
			"op", "billing_sync", "account_id", accountID, "error", err)
		return result, nil
	}
	result.CustomerID = customerID

	if err := a.client.UpdateCustomerMetadata(remoteCtx, customerID, metadata); err != nil {
		a.logger.Warn("billing metadata update failed, continuing local-only",
			"op", "billing_sync", "account_id", accountID, "customer_id", customerID, "error", err)
		return result, nil
	}
	result.Synced = true
	return result, nil
}

// resolveCustomer returns the stored customer id, or finds or creates the
// customer by email. Concurrent syncs for one email share a single lookup,
// which runs under its own deadline so one caller's cancellation cannot fail
// the others waiting on it.
func (a *Adapter) resolveCustomer(ctx context.Context, account *credential.Account, email string, metadata map[string]string) (string, error) {
	if account.BillingCustomerID != "" {
		return account.BillingCustomerID, nil
	}
	if email == "" {
		return "", errors.New("billing: account has no email")
	}

	v, err, _ := a.lookups.Do(email, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Timeout)
		defer cancel()
		customer, err := a.client.FindCustomerByEmail(lookupCtx, email)
		if err != nil {
			return "", err
		}
		if customer == nil {
			customer, err = a.client.CreateCustomer(lookupCtx, email, metadata)
			if err != nil {
				return "", err
			}
		}
		return customer.ID, nil
	})
	if err != nil {
		return "", err
	}
	customerID := v.(string)

	if err := a.store.SetBillingCustomerID(ctx, account.ID, customerID); err != nil {
		a.logger.Warn("billing customer id not stored", "account_id", account.ID, "error", err)
	}
	return customerID, nil
}
