package mfaauth

import (
	"context"
	"errors"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/internal/passkey"
	"github.com/nutricoach/mfaauth/internal/stores"
)

// PasskeyChallenge issues authentication options for the account behind
// email. Unknown emails and accounts without passkeys both yield nil options
// and a nil error.
func (e *Engine) PasskeyChallenge(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.passkeys == nil {
		return nil, nil
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	account, err := e.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, nil
		}
		return nil, e.internalError("passkey_challenge", "", err)
	}
	registered, err := e.store.ListPasskeys(ctx, account.ID)
	if err != nil {
		return nil, e.internalError("passkey_challenge", account.ID, err)
	}
	if len(registered) == 0 {
		return nil, nil
	}

	options, state, err := e.passkeys.BeginLogin(passkey.NewUser(account, registered))
	if err != nil {
		return nil, e.internalError("passkey_challenge", account.ID, err)
	}
	if err := e.challenges.Put(ctx, account.ID, stores.PurposeAuthentication, state, e.config.Passkey.ChallengeTTL); err != nil {
		return nil, e.internalError("passkey_challenge", account.ID, mapChallengeError(err))
	}

	e.emitAudit(ctx, auditEventPasskeyChallengeIssued, true, account.ID, "", nil, nil)
	return options, nil
}

// StartPasskeyRegistration returns creation options that exclude the
// account's registered credentials.
func (e *Engine) StartPasskeyRegistration(ctx context.Context, accountID string) (*protocol.CredentialCreation, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.passkeys == nil {
		return nil, ErrPasskeyNotConfigured
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	registered, err := e.store.ListPasskeys(ctx, account.ID)
	if err != nil {
		return nil, e.internalError("passkey_register_start", account.ID, err)
	}

	options, state, err := e.passkeys.BeginRegistration(passkey.NewUser(account, registered))
	if err != nil {
		return nil, e.internalError("passkey_register_start", account.ID, err)
	}
	if err := e.challenges.Put(ctx, account.ID, stores.PurposeRegistration, state, e.config.Passkey.ChallengeTTL); err != nil {
		return nil, e.internalError("passkey_register_start", account.ID, mapChallengeError(err))
	}
	return options, nil
}

// FinishPasskeyRegistration consumes the registration challenge and verifies
// the attestation. The challenge is gone afterwards whatever the outcome.
func (e *Engine) FinishPasskeyRegistration(ctx context.Context, accountID, friendlyName string, attestation []byte) (*PasskeyRegistration, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.passkeys == nil {
		return nil, ErrPasskeyNotConfigured
	}
	if len(attestation) == 0 {
		return nil, ErrInvalidRequest
	}
	friendlyName = strings.TrimSpace(friendlyName)
	if friendlyName == "" {
		friendlyName = "Passkey"
	}
	if len(friendlyName) > maxFriendlyNameLen {
		friendlyName = friendlyName[:maxFriendlyNameLen]
	}

	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	state, err := e.challenges.Consume(ctx, account.ID, stores.PurposeRegistration)
	if err != nil {
		err = mapChallengeError(err)
		e.metricInc(MetricChallengeRejected)
		e.emitAudit(ctx, auditEventPasskeyRegisterFailed, false, account.ID, account.ID, err, nil)
		return nil, err
	}

	registered, err := e.store.ListPasskeys(ctx, account.ID)
	if err != nil {
		return nil, e.internalError("passkey_register_finish", account.ID, err)
	}
	cred, err := e.passkeys.FinishRegistration(passkey.NewUser(account, registered), state, attestation)
	if err != nil {
		if errors.Is(err, passkey.ErrVerification) || errors.Is(err, passkey.ErrSessionCorrupt) {
			e.logger.Info("passkey attestation rejected", "account_id", account.ID, "error", err)
			e.emitAudit(ctx, auditEventPasskeyRegisterFailed, false, account.ID, account.ID, ErrPasskeyInvalid, nil)
			return nil, ErrPasskeyInvalid
		}
		return nil, e.internalError("passkey_register_finish", account.ID, err)
	}

	stored := passkey.FromWebAuthn(cred)
	stored.AccountID = account.ID
	stored.FriendlyName = friendlyName
	stored.CreatedAt = e.clock()

	err = e.store.InTx(ctx, func(tx credential.Store) error {
		if err := tx.CreatePasskey(ctx, stored); err != nil {
			return err
		}
		return tx.SetMFAEnrolled(ctx, account.ID, true)
	})
	if err != nil {
		if errors.Is(err, credential.ErrDuplicateCredential) {
			e.emitAudit(ctx, auditEventPasskeyRegisterFailed, false, account.ID, account.ID, ErrPasskeyAlreadyRegistered, nil)
			return nil, ErrPasskeyAlreadyRegistered
		}
		return nil, e.internalError("passkey_register_finish", account.ID, err)
	}

	result := &PasskeyRegistration{
		PasskeyID: stored.ID,
		Billing:   e.syncBilling(ctx, "passkey_register_finish", account, true),
	}

	e.metricInc(MetricPasskeyRegistered)
	e.emitAudit(ctx, auditEventPasskeyRegistered, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"passkey_id": stored.ID}
	})
	return result, nil
}

// RevokePasskey deletes the passkey and its factor, then recomputes the
// enrolled flag from the remaining confirmed factors.
func (e *Engine) RevokePasskey(ctx context.Context, accountID, passkeyID string) (*PasskeyRevocation, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(passkeyID) == "" {
		return nil, ErrInvalidRequest
	}
	account, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var enrolled bool
	err = e.store.InTx(ctx, func(tx credential.Store) error {
		deleted, err := tx.DeletePasskey(ctx, account.ID, passkeyID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrPasskeyNotFound
		}
		count, err := tx.CountConfirmedFactors(ctx, account.ID)
		if err != nil {
			return err
		}
		enrolled = count > 0
		return tx.SetMFAEnrolled(ctx, account.ID, enrolled)
	})
	if err != nil {
		if errors.Is(err, ErrPasskeyNotFound) {
			return nil, err
		}
		return nil, e.internalError("passkey_revoke", account.ID, err)
	}

	result := &PasskeyRevocation{MFAEnrolled: enrolled}
	if account.MFAEnrolled != enrolled {
		result.Billing = e.syncBilling(ctx, "passkey_revoke", account, enrolled)
	}

	e.metricInc(MetricPasskeyRevoked)
	e.emitAudit(ctx, auditEventPasskeyRevoked, true, account.ID, account.ID, nil, func() map[string]string {
		return map[string]string{"passkey_id": passkeyID}
	})
	return result, nil
}
