package gormstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/internal/audit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenSQLite(":memory:", Options{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func seedAccount(t *testing.T, s *Store, email string) *credential.Account {
	t.Helper()
	acc := &credential.Account{Email: email, Role: "client", MFARequired: true, SubscriptionTier: "premium"}
	require.NoError(t, s.CreateAccount(context.Background(), acc))
	return acc
}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "  Client@Example.com ")

	got, err := s.GetAccountByEmail(ctx, "client@example.com")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	assert.True(t, got.MFARequired)
	assert.False(t, got.MFAEnrolled)

	_, err = s.GetAccountByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestAccountFalseMFARequiredIsPersisted(t *testing.T) {
	s := newTestStore(t)
	acc := &credential.Account{Email: "coach@example.com", Role: "coach", MFARequired: false}
	require.NoError(t, s.CreateAccount(context.Background(), acc))

	got, err := s.GetAccount(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.False(t, got.MFARequired)
}

func TestSetPremiumLockReportsPrevious(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	prev, err := s.SetPremiumLock(ctx, acc.ID, true, "mfa_required")
	require.NoError(t, err)
	assert.False(t, prev)

	prev, err = s.SetPremiumLock(ctx, acc.ID, true, "mfa_required")
	require.NoError(t, err)
	assert.True(t, prev)

	require.NoError(t, s.StampMFAVerified(ctx, acc.ID, t0))
	got, _ := s.GetAccount(ctx, acc.ID)
	assert.False(t, got.PremiumLocked)
	require.NotNil(t, got.MFAVerifiedAt)

	_, err = s.SetPremiumLock(ctx, "nope", true, "x")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestTOTPFactorReenrollmentResetsConfirmation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	f, err := s.UpsertTOTPFactor(ctx, acc.ID, "SECRET1", "phone", t0)
	require.NoError(t, err)
	ok, err := s.ConfirmTOTPFactor(ctx, f.ID, "SECRET1", t0)
	require.NoError(t, err)
	require.True(t, ok)

	n, _ := s.CountConfirmedFactors(ctx, acc.ID)
	assert.Equal(t, int64(1), n)

	f2, err := s.UpsertTOTPFactor(ctx, acc.ID, "SECRET2", "new phone", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, f.ID, f2.ID, "at most one totp factor per account")
	assert.False(t, f2.Confirmed())
	assert.Equal(t, "SECRET2", f2.Secret)

	n, _ = s.CountConfirmedFactors(ctx, acc.ID)
	assert.Equal(t, int64(0), n)

	ok, err = s.ConfirmTOTPFactor(ctx, f2.ID, "SECRET1", t0)
	require.NoError(t, err)
	assert.False(t, ok, "confirmation must match the current secret")
}

func TestAdvanceTOTPStepIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")
	f, _ := s.UpsertTOTPFactor(ctx, acc.ID, "S", "", t0)

	ok, _ := s.AdvanceTOTPStep(ctx, f.ID, 100)
	assert.True(t, ok)
	ok, _ = s.AdvanceTOTPStep(ctx, f.ID, 100)
	assert.False(t, ok)
	ok, _ = s.AdvanceTOTPStep(ctx, f.ID, 99)
	assert.False(t, ok)
}

func TestBackupCodeConsumption(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	require.NoError(t, s.ReplaceBackupCodes(ctx, acc.ID, []credential.BackupCode{
		{CodeHash: "h1", Hint: "AAAA"}, {CodeHash: "h2", Hint: "BBBB"},
	}))

	res, err := s.ConsumeBackupCode(ctx, acc.ID, "h1", t0)
	require.NoError(t, err)
	assert.Equal(t, credential.ConsumeOK, res)

	res, _ = s.ConsumeBackupCode(ctx, acc.ID, "h1", t0)
	assert.Equal(t, credential.ConsumeAlreadyUsed, res)

	res, _ = s.ConsumeBackupCode(ctx, acc.ID, "nope", t0)
	assert.Equal(t, credential.ConsumeNotFound, res)

	left, _ := s.CountRemainingBackupCodes(ctx, acc.ID)
	assert.Equal(t, int64(1), left)

	require.NoError(t, s.ReplaceBackupCodes(ctx, acc.ID, []credential.BackupCode{{CodeHash: "h3"}}))
	res, _ = s.ConsumeBackupCode(ctx, acc.ID, "h2", t0)
	assert.Equal(t, credential.ConsumeNotFound, res, "replaced batch must not redeem")
}

func TestBackupCodeConcurrentConsumeSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")
	require.NoError(t, s.ReplaceBackupCodes(ctx, acc.ID, []credential.BackupCode{{CodeHash: "h1"}}))

	const n = 8
	var wg sync.WaitGroup
	results := make(chan credential.ConsumeResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.ConsumeBackupCode(ctx, acc.ID, "h1", t0)
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	ok := 0
	for r := range results {
		if r == credential.ConsumeOK {
			ok++
		} else {
			assert.Equal(t, credential.ConsumeAlreadyUsed, r)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestOverrideTokenExpiryLeavesTokenUnconsumed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	require.NoError(t, s.CreateOverrideToken(ctx, &credential.OverrideToken{
		AccountID: acc.ID, TokenHash: "th", IssuedBy: "admin", ExpiresAt: t0.Add(time.Minute), CreatedAt: t0,
	}))

	res, err := s.ConsumeOverrideToken(ctx, acc.ID, "th", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, credential.ConsumeExpired, res)

	tok, err := s.GetOverrideToken(ctx, "th")
	require.NoError(t, err)
	assert.Nil(t, tok.ConsumedAt)

	res, _ = s.ConsumeOverrideToken(ctx, "other-account", "th", t0)
	assert.Equal(t, credential.ConsumeNotFound, res)

	res, _ = s.ConsumeOverrideToken(ctx, acc.ID, "th", t0.Add(30*time.Second))
	assert.Equal(t, credential.ConsumeOK, res)
	res, _ = s.ConsumeOverrideToken(ctx, acc.ID, "th", t0.Add(40*time.Second))
	assert.Equal(t, credential.ConsumeAlreadyUsed, res)
}

func TestPasskeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	pk := &credential.Passkey{
		AccountID: acc.ID, CredentialID: []byte("cred-1"), PublicKey: []byte("pk"),
		SignCount: 5, Transports: []string{"internal"}, FriendlyName: "laptop", CreatedAt: t0,
	}
	require.NoError(t, s.CreatePasskey(ctx, pk))
	require.NotEmpty(t, pk.ID)
	require.NotEmpty(t, pk.FactorID)

	dup := &credential.Passkey{AccountID: acc.ID, CredentialID: []byte("cred-1"), PublicKey: []byte("pk")}
	assert.ErrorIs(t, s.CreatePasskey(ctx, dup), credential.ErrDuplicateCredential)

	got, err := s.GetPasskeyByCredentialID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.SignCount)
	assert.Equal(t, []string{"internal"}, got.Transports)

	n, _ := s.CountConfirmedFactors(ctx, acc.ID)
	assert.Equal(t, int64(1), n)

	ok, _ := s.CompareAndSwapSignCount(ctx, pk.ID, 4, 9, t0)
	assert.False(t, ok, "stale expected value must not overwrite")
	ok, _ = s.CompareAndSwapSignCount(ctx, pk.ID, 5, 9, t0)
	assert.True(t, ok)

	deleted, err := s.DeletePasskey(ctx, "someone-else", pk.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = s.DeletePasskey(ctx, acc.ID, pk.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	n, _ = s.CountConfirmedFactors(ctx, acc.ID)
	assert.Equal(t, int64(0), n)
}

func TestTrustedDeviceRevocationIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	d, err := s.UpsertTrustedDevice(ctx, acc.ID, "fp", "laptop", t0)
	require.NoError(t, err)
	d2, err := s.UpsertTrustedDevice(ctx, acc.ID, "fp", "laptop 2", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, d.ID, d2.ID)
	assert.Equal(t, "laptop 2", d2.Name)

	ok, _ := s.RevokeTrustedDevice(ctx, acc.ID, d.ID, t0)
	assert.True(t, ok)
	ok, _ = s.RevokeTrustedDevice(ctx, acc.ID, d.ID, t0)
	assert.False(t, ok)

	d3, err := s.UpsertTrustedDevice(ctx, acc.ID, "fp", "again", t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, d3.Revoked(), "upsert must not un-revoke")

	touched, _ := s.TouchTrustedDevice(ctx, acc.ID, "fp", t0)
	assert.False(t, touched)

	devices, _ := s.ListTrustedDevices(ctx, acc.ID)
	assert.Len(t, devices, 1)
}

func TestInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")
	require.NoError(t, s.ReplaceBackupCodes(ctx, acc.ID, []credential.BackupCode{{CodeHash: "h1"}}))

	boom := assert.AnError
	err := s.InTx(ctx, func(tx credential.Store) error {
		res, err := tx.ConsumeBackupCode(ctx, acc.ID, "h1", t0)
		require.NoError(t, err)
		require.Equal(t, credential.ConsumeOK, res)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	left, _ := s.CountRemainingBackupCodes(ctx, acc.ID)
	assert.Equal(t, int64(1), left, "rolled back consumption must leave the code usable")
}

func TestEntitlementsAndAuditSink(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acc := seedAccount(t, s, "a@example.com")

	require.NoError(t, s.GrantContentUnlock(ctx, acc.ID, "plan-1", true, t0))
	require.NoError(t, s.GrantContentUnlock(ctx, acc.ID, "plan-2", false, t0))
	n, err := s.RevokePremiumUnlocks(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	left, _ := s.CountContentUnlocks(ctx, acc.ID, false)
	assert.Equal(t, int64(1), left)

	sink := NewAuditSink(s.db)
	require.NoError(t, sink.Emit(ctx, audit.Event{
		Timestamp: t0, EventType: "mfa_login_success", AccountID: acc.ID, Success: true,
		Metadata: map[string]string{"method": "totp"},
	}))
	events, err := sink.ListAuditEvents(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "totp", events[0].Metadata["method"])
}
