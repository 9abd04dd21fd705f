package mfaauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/identity"
	"github.com/nutricoach/mfaauth/internal"
	"github.com/nutricoach/mfaauth/internal/flows"
	"github.com/nutricoach/mfaauth/internal/limiters"
	"github.com/nutricoach/mfaauth/internal/passkey"
	"github.com/nutricoach/mfaauth/internal/stores"
)

const maxDeviceNameLen = 128

// Login verifies the password and, when the account has a confirmed second
// factor and MFA is required, one second-factor proof.
//
// A missing or non-matching proof yields RequiresMFA with a nil error.
// Replayed, expired or already used one-time credentials fail with their
// specific error. Consuming a one-time credential and issuing the session
// commit together, so a late failure leaves the credential unconsumed.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.store == nil || e.identity == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidCredentials
	}

	accountID, err := e.verifyPassword(ctx, email, req.Password)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, ErrInvalidCredentials) {
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
			return nil, err
		}
		return nil, e.internalError("login", "", err)
	}

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, e.internalError("login", accountID, err)
	}

	deviceHash := ""
	if strings.TrimSpace(req.DeviceFingerprint) != "" {
		deviceHash, err = internal.HashFingerprint(account.ID, req.DeviceFingerprint)
		if err != nil {
			return nil, ErrInvalidRequest
		}
	}

	required, err := e.mfaRequired(ctx, account)
	if err != nil {
		return nil, e.internalError("login", account.ID, err)
	}
	if !required {
		return e.passwordOnlyLogin(ctx, account, deviceHash)
	}

	proofs := flows.Proofs{
		OverrideToken:    strings.TrimSpace(req.OverrideToken),
		Code:             strings.TrimSpace(req.Code),
		BackupCode:       strings.TrimSpace(req.BackupCode),
		PasskeyAssertion: req.PasskeyAssertion,
	}
	if proofs.Empty() {
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFARequired, true, account.ID, "", nil, nil)
		return &LoginResult{RequiresMFA: true}, nil
	}

	if err := e.checkMFAAttempts(ctx, account.ID); err != nil {
		return nil, err
	}

	var (
		result        *LoginResult
		deviceTrusted bool
	)
	err = e.store.InTx(ctx, func(tx credential.Store) error {
		method, err := flows.RunVerifyProofs(ctx, proofs, e.proofDeps(tx, account))
		if err != nil {
			return err
		}
		if method == flows.MethodNone {
			return nil
		}
		result, deviceTrusted, err = e.grantSession(ctx, tx, account, method, deviceHash, req)
		return err
	})
	if err != nil {
		if isProofFailure(err) {
			e.recordMFAFailure(ctx, account.ID)
			e.metricInc(MetricMFAFailure)
			e.proofFailureMetric(err)
			e.emitAudit(ctx, auditEventMFAFailure, false, account.ID, "", err, nil)
			return nil, err
		}
		e.metricInc(MetricLoginFailure)
		return nil, e.internalError("login", account.ID, err)
	}

	if result == nil {
		e.recordMFAFailure(ctx, account.ID)
		e.metricInc(MetricMFAFailure)
		e.metricInc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFAFailure, false, account.ID, "", nil, nil)
		return &LoginResult{RequiresMFA: true}, nil
	}

	if err := e.limiter.Reset(ctx, account.ID); err != nil {
		e.logger.Warn("mfa attempt counter not reset", "op", "login", "account_id", account.ID, "error", err)
	}

	result.Billing = e.syncBilling(ctx, "login", account, true)

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricMFASuccess)
	e.recordMethod(ctx, account.ID, flows.Method(result.Method))
	if deviceTrusted {
		e.metricInc(MetricDeviceTrusted)
		e.emitAudit(ctx, auditEventTrustedDeviceAdded, true, account.ID, "", nil, nil)
	}
	if len(result.BackupCodes) > 0 {
		e.metricInc(MetricBackupCodesRegenerated)
		e.emitAudit(ctx, auditEventBackupCodesGenerated, true, account.ID, "", nil, func() map[string]string {
			return map[string]string{"reason": "override", "count": fmt.Sprint(len(result.BackupCodes))}
		})
	}
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"method": result.Method}
	})
	return result, nil
}

func (e *Engine) verifyPassword(ctx context.Context, email, password string) (string, error) {
	idCtx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Identity)
	defer cancel()

	accountID, err := e.identity.VerifyPassword(idCtx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	return accountID, nil
}

func (e *Engine) issueSession(ctx context.Context, account *credential.Account, method flows.Method) (*identity.Session, error) {
	idCtx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Identity)
	defer cancel()
	return e.identity.IssueSession(idCtx, account, string(method))
}

// mfaRequired applies the permissive policy: MFA is enforced only once the
// account holds at least one confirmed factor.
func (e *Engine) mfaRequired(ctx context.Context, account *credential.Account) (bool, error) {
	if !account.MFARequired {
		return false, nil
	}
	count, err := e.store.CountConfirmedFactors(ctx, account.ID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (e *Engine) passwordOnlyLogin(ctx context.Context, account *credential.Account, deviceHash string) (*LoginResult, error) {
	session, err := e.issueSession(ctx, account, flows.MethodPassword)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		return nil, e.internalError("login", account.ID, err)
	}
	if deviceHash != "" {
		if _, err := e.store.TouchTrustedDevice(ctx, account.ID, deviceHash, e.clock()); err != nil {
			e.logger.Warn("trusted device not touched", "op", "login", "account_id", account.ID, "error", err)
		}
	}

	mfaActive := account.MFAEnrolled
	if account.MFARequired {
		// Required but no confirmed factor yet.
		mfaActive = false
	}
	result := &LoginResult{
		Session: session,
		Method:  string(flows.MethodPassword),
		Billing: e.syncBilling(ctx, "login", account, mfaActive),
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricLoginPasswordOnly)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"method": result.Method}
	})
	return result, nil
}

// grantSession runs inside the login transaction after a proof verified.
func (e *Engine) grantSession(
	ctx context.Context,
	tx credential.Store,
	account *credential.Account,
	method flows.Method,
	deviceHash string,
	req LoginRequest,
) (*LoginResult, bool, error) {
	now := e.clock()
	result := &LoginResult{Method: string(method)}

	if method == flows.MethodOverride {
		codes, plaintext, err := e.newBackupCodes(account.ID, now)
		if err != nil {
			return nil, false, err
		}
		if err := tx.ReplaceBackupCodes(ctx, account.ID, codes); err != nil {
			return nil, false, err
		}
		result.BackupCodes = plaintext
	}

	if err := tx.StampMFAVerified(ctx, account.ID, now); err != nil {
		return nil, false, err
	}

	trusted := false
	if deviceHash != "" {
		if req.RememberDevice {
			if _, err := tx.UpsertTrustedDevice(ctx, account.ID, deviceHash, e.deviceName(ctx, req.DeviceName), now); err != nil {
				return nil, false, err
			}
			trusted = true
		} else if _, err := tx.TouchTrustedDevice(ctx, account.ID, deviceHash, now); err != nil {
			return nil, false, err
		}
	}

	session, err := e.issueSession(ctx, account, method)
	if err != nil {
		return nil, false, err
	}
	result.Session = session
	return result, trusted, nil
}

func (e *Engine) proofDeps(tx credential.Store, account *credential.Account) flows.ProofDeps {
	return flows.ProofDeps{
		VerifyOverride: func(ctx context.Context, token string) (bool, error) {
			return e.verifyOverride(ctx, tx, account, token)
		},
		VerifyTOTP: func(ctx context.Context, code string) (bool, error) {
			return e.verifyTOTP(ctx, tx, account, code)
		},
		VerifyBackupCode: func(ctx context.Context, code string) (bool, error) {
			return e.verifyBackupCode(ctx, tx, account, code)
		},
		VerifyPasskey: func(ctx context.Context, assertion []byte) (bool, error) {
			return e.verifyPasskey(ctx, tx, account, assertion)
		},
		OnMismatch: func(_ context.Context, method flows.Method) {
			e.logger.Debug("mfa proof did not match", "account_id", account.ID, "method", string(method))
		},
	}
}

func (e *Engine) verifyOverride(ctx context.Context, tx credential.Store, account *credential.Account, token string) (bool, error) {
	if !internal.ValidOverrideToken(token) {
		return false, ErrOverrideInvalid
	}
	res, err := tx.ConsumeOverrideToken(ctx, account.ID, internal.HashToken(token), e.clock())
	if err != nil {
		return false, err
	}
	switch res {
	case credential.ConsumeOK:
		return true, nil
	case credential.ConsumeExpired:
		return false, ErrOverrideExpired
	default:
		return false, ErrOverrideInvalid
	}
}

// verifyTOTP fails closed: an account without a confirmed secret never matches.
func (e *Engine) verifyTOTP(ctx context.Context, tx credential.Store, account *credential.Account, code string) (bool, error) {
	factor, err := tx.GetTOTPFactor(ctx, account.ID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !factor.Confirmed() || factor.Secret == "" {
		return false, nil
	}

	ok, step, err := e.totp.VerifyCode(factor.Secret, code, e.clock())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	advanced, err := tx.AdvanceTOTPStep(ctx, factor.ID, step)
	if err != nil {
		return false, err
	}
	if !advanced {
		return false, ErrTOTPReplayed
	}
	return true, nil
}

func (e *Engine) verifyBackupCode(ctx context.Context, tx credential.Store, account *credential.Account, code string) (bool, error) {
	canonical := flows.CanonicalizeBackupCode(code)
	if len(canonical) < 8 {
		return false, nil
	}
	res, err := tx.ConsumeBackupCode(ctx, account.ID, flows.BackupCodeHash(account.ID, canonical), e.clock())
	if err != nil {
		return false, err
	}
	switch res {
	case credential.ConsumeOK:
		return true, nil
	case credential.ConsumeAlreadyUsed:
		return false, ErrBackupCodeUsed
	default:
		return false, nil
	}
}

// verifyPasskey consumes the authentication challenge before anything else,
// so a failed assertion cannot be retried against the same challenge.
func (e *Engine) verifyPasskey(ctx context.Context, tx credential.Store, account *credential.Account, assertion []byte) (bool, error) {
	if e.passkeys == nil {
		return false, ErrPasskeyNotConfigured
	}

	state, err := e.challenges.Consume(ctx, account.ID, stores.PurposeAuthentication)
	if err != nil {
		return false, mapChallengeError(err)
	}

	registered, err := tx.ListPasskeys(ctx, account.ID)
	if err != nil {
		return false, err
	}
	cred, err := e.passkeys.FinishLogin(passkey.NewUser(account, registered), state, assertion)
	if err != nil {
		if errors.Is(err, passkey.ErrVerification) || errors.Is(err, passkey.ErrSessionCorrupt) {
			e.logger.Info("passkey assertion rejected", "account_id", account.ID, "error", err)
			return false, nil
		}
		return false, err
	}

	var stored *credential.Passkey
	for i := range registered {
		if bytes.Equal(registered[i].CredentialID, cred.ID) {
			stored = &registered[i]
			break
		}
	}
	if stored == nil {
		return false, nil
	}

	next := cred.Authenticator.SignCount
	if next < stored.SignCount {
		return false, ErrPasskeyCounterRegressed
	}
	swapped, err := tx.CompareAndSwapSignCount(ctx, stored.ID, stored.SignCount, next, e.clock())
	if err != nil {
		return false, err
	}
	if !swapped {
		return false, ErrPasskeyCounterRegressed
	}
	return true, nil
}

func (e *Engine) checkMFAAttempts(ctx context.Context, accountID string) error {
	err := e.limiter.Check(ctx, accountID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRateLimited):
		e.metricInc(MetricMFARateLimited)
		e.emitAudit(ctx, auditEventMFARateLimited, false, accountID, "", ErrMFARateLimited, nil)
		return ErrMFARateLimited
	default:
		e.logger.Error("mfa attempt limiter unavailable", "account_id", accountID, "error", err)
		return ErrMFAUnavailable
	}
}

func (e *Engine) recordMFAFailure(ctx context.Context, accountID string) {
	err := e.limiter.RecordFailure(ctx, accountID)
	if err != nil && !errors.Is(err, limiters.ErrRateLimited) {
		e.logger.Warn("mfa failure not counted", "account_id", accountID, "error", err)
	}
}

func (e *Engine) deviceName(ctx context.Context, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = userAgentFromContext(ctx)
	}
	if len(name) > maxDeviceNameLen {
		name = name[:maxDeviceNameLen]
	}
	return name
}

func (e *Engine) newBackupCodes(accountID string, now time.Time) ([]credential.BackupCode, []string, error) {
	batch, err := flows.GenerateBackupCodes(accountID, e.config.BackupCodes.Count, e.config.BackupCodes.Length, nil)
	if err != nil {
		return nil, nil, err
	}
	codes := make([]credential.BackupCode, 0, len(batch.Records))
	for _, rec := range batch.Records {
		codes = append(codes, credential.BackupCode{
			AccountID: accountID,
			CodeHash:  rec.Hash,
			Hint:      rec.Hint,
			CreatedAt: now,
		})
	}
	return codes, batch.Plaintext, nil
}

func isProofFailure(err error) bool {
	return errors.Is(err, ErrOverrideInvalid) ||
		errors.Is(err, ErrOverrideExpired) ||
		errors.Is(err, ErrTOTPReplayed) ||
		errors.Is(err, ErrBackupCodeUsed) ||
		errors.Is(err, ErrChallengeNotFound) ||
		errors.Is(err, ErrChallengeExpired) ||
		errors.Is(err, ErrPasskeyCounterRegressed)
}

func mapChallengeError(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeBackend):
		return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	default:
		return err
	}
}

func (e *Engine) proofFailureMetric(err error) {
	switch {
	case errors.Is(err, ErrOverrideInvalid), errors.Is(err, ErrOverrideExpired):
		e.metricInc(MetricOverrideRejected)
	case errors.Is(err, ErrTOTPReplayed):
		e.metricInc(MetricTOTPReplay)
	case errors.Is(err, ErrBackupCodeUsed):
		e.metricInc(MetricBackupCodeReused)
	case errors.Is(err, ErrPasskeyCounterRegressed):
		e.metricInc(MetricPasskeyCounterRegressed)
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
		e.metricInc(MetricChallengeRejected)
	}
}

func (e *Engine) recordMethod(ctx context.Context, accountID string, method flows.Method) {
	switch method {
	case flows.MethodOverride:
		e.metricInc(MetricOverrideRedeemed)
		e.emitAudit(ctx, auditEventOverrideRedeemed, true, accountID, "", nil, nil)
	case flows.MethodBackupCode:
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, accountID, "", nil, nil)
	case flows.MethodPasskey:
		e.metricInc(MetricPasskeyLogin)
	}
}
