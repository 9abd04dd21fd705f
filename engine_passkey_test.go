package mfaauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPasskeyChallengeDoesNotRevealAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.createAccount("alice@example.com", "client", "free", true)
	ctx := context.Background()

	for _, email := range []string{"", "nobody@example.com", "alice@example.com"} {
		options, err := env.engine.PasskeyChallenge(ctx, email)
		if err != nil {
			t.Fatalf("PasskeyChallenge(%q): %v", email, err)
		}
		if options != nil {
			t.Fatalf("PasskeyChallenge(%q): expected no options", email)
		}
	}
}

func TestPasskeyRegistrationAndLogin(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "premium", true)
	passkeyID := env.registerPasskey(acc.ID, "cred-1", 5)
	ctx := context.Background()

	status, err := env.engine.Status(ctx, acc.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.MFAEnrolled || len(status.Passkeys) != 1 || status.Passkeys[0].ID != passkeyID {
		t.Fatalf("unexpected status after registration %+v", status)
	}
	if calls := env.billing.Calls(); len(calls) != 1 || !calls[0].MFAActive {
		t.Fatalf("expected billing sync with mfaActive=true, got %+v", calls)
	}

	options, err := env.engine.PasskeyChallenge(ctx, "alice@example.com")
	if err != nil || options == nil {
		t.Fatalf("expected challenge options: %v", err)
	}
	result, err := env.login("alice@example.com", func(r *LoginRequest) {
		r.PasskeyAssertion = fakeBody(t, "cred-1", 6, false)
	})
	if err != nil {
		t.Fatalf("passkey login failed: %v", err)
	}
	if result.Method != "passkey" || result.Session == nil {
		t.Fatalf("expected a passkey session, got %+v", result)
	}

	stored, err := env.store.GetPasskeyByCredentialID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetPasskeyByCredentialID: %v", err)
	}
	if stored.SignCount != 6 || stored.LastUsedAt == nil {
		t.Fatalf("expected counter 6 and lastUsedAt, got %+v", stored)
	}
}

func TestPasskeyRegistrationChallengeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "free", true)
	ctx := context.Background()

	if _, err := env.engine.StartPasskeyRegistration(ctx, acc.ID); err != nil {
		t.Fatalf("StartPasskeyRegistration: %v", err)
	}
	_, err := env.engine.FinishPasskeyRegistration(ctx, acc.ID, "laptop", fakeBody(t, "cred-1", 0, true))
	if !errors.Is(err, ErrPasskeyInvalid) {
		t.Fatalf("expected ErrPasskeyInvalid, got %v", err)
	}

	// The failed attempt consumed the challenge.
	_, err = env.engine.FinishPasskeyRegistration(ctx, acc.ID, "laptop", fakeBody(t, "cred-1", 0, false))
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}

	if _, err := env.engine.StartPasskeyRegistration(ctx, acc.ID); err != nil {
		t.Fatalf("StartPasskeyRegistration: %v", err)
	}
	if _, err := env.engine.FinishPasskeyRegistration(ctx, acc.ID, "laptop", fakeBody(t, "cred-1", 0, false)); err != nil {
		t.Fatalf("FinishPasskeyRegistration: %v", err)
	}
	_, err = env.engine.FinishPasskeyRegistration(ctx, acc.ID, "laptop", fakeBody(t, "cred-2", 0, false))
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after success, got %v", err)
	}
}

func TestPasskeyRegistrationRejectsDuplicateCredential(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAccount("alice@example.com", "client", "free", true)
	bob := env.createAccount("bob@example.com", "client", "free", true)
	env.registerPasskey(alice.ID, "shared", 0)
	ctx := context.Background()

	if _, err := env.engine.StartPasskeyRegistration(ctx, bob.ID); err != nil {
		t.Fatalf("StartPasskeyRegistration: %v", err)
	}
	_, err := env.engine.FinishPasskeyRegistration(ctx, bob.ID, "key", fakeBody(t, "shared", 0, false))
	if !errors.Is(err, ErrPasskeyAlreadyRegistered) {
		t.Fatalf("expected ErrPasskeyAlreadyRegistered, got %v", err)
	}
	if env.account(bob.ID).MFAEnrolled {
		t.Fatal("failed registration must not enroll the account")
	}
}

func TestPasskeyRegistrationChallengeExpires(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "free", true)
	ctx := context.Background()

	if _, err := env.engine.StartPasskeyRegistration(ctx, acc.ID); err != nil {
		t.Fatalf("StartPasskeyRegistration: %v", err)
	}
	env.clock.Advance(env.cfg.Passkey.ChallengeTTL + time.Second)

	_, err := env.engine.FinishPasskeyRegistration(ctx, acc.ID, "laptop", fakeBody(t, "cred-1", 0, false))
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestPasskeyLoginRequiresChallenge(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "free", true)
	env.registerPasskey(acc.ID, "cred-1", 0)

	_, err := env.login("alice@example.com", func(r *LoginRequest) {
		r.PasskeyAssertion = fakeBody(t, "cred-1", 1, false)
	})
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestPasskeyLoginChallengeIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "free", true)
	env.registerPasskey(acc.ID, "cred-1", 0)

	if _, err := env.engine.PasskeyChallenge(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("PasskeyChallenge: %v", err)
	}
	result, err := env.login("alice@example.com", func(r *LoginRequest) {
		r.PasskeyAssertion = fakeBody(t, "cred-1", 1, true)
	})
	if err != nil || !result.RequiresMFA {
		t.Fatalf("expected requiresMfa for a bad assertion, got %+v %v", result, err)
	}

	_, err = env.login("alice@example.com", func(r *LoginRequest) {
		r.PasskeyAssertion = fakeBody(t, "cred-1", 1, false)
	})
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound on retry, got %v", err)
	}
}

func TestPasskeyCounterMustNotRegress(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "free", true)
	env.registerPasskey(acc.ID, "cred-1", 5)
	ctx := context.Background()

	if _, err := env.engine.PasskeyChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("PasskeyChallenge: %v", err)
	}
	_, err := env.login("alice@example.com", func(r *LoginRequest) {
		r.PasskeyAssertion = fakeBody(t, "cred-1", 3, false)
	})
	if !errors.Is(err, ErrPasskeyCounterRegressed) {
		t.Fatalf("expected ErrPasskeyCounterRegressed, got %v", err)
	}
	stored, err := env.store.GetPasskeyByCredentialID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetPasskeyByCredentialID: %v", err)
	}
	if stored.SignCount != 5 {
		t.Fatalf("counter moved after a rejected assertion: %d", stored.SignCount)
	}

	if _, err := env.engine.PasskeyChallenge(ctx, "alice@example.com"); err != nil {
		t.Fatalf("PasskeyChallenge: %v", err)
	}
	result, err := env.login("alice@example.com", func(r *LoginRequest) {
		r.PasskeyAssertion = fakeBody(t, "cred-1", 7, false)
	})
	if err != nil || result.Session == nil {
		t.Fatalf("expected login with counter 7: %+v %v", result, err)
	}
	stored, err = env.store.GetPasskeyByCredentialID(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("GetPasskeyByCredentialID: %v", err)
	}
	if stored.SignCount != 7 {
		t.Fatalf("expected counter 7, got %d", stored.SignCount)
	}
}

func TestRevokePasskeyRecomputesEnrollment(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount("alice@example.com", "client", "premium", true)
	first := env.registerPasskey(acc.ID, "cred-1", 0)
	second := env.registerPasskey(acc.ID, "cred-2", 0)
	ctx := context.Background()

	revocation, err := env.engine.RevokePasskey(ctx, acc.ID, first)
	if err != nil {
		t.Fatalf("RevokePasskey: %v", err)
	}
	if !revocation.MFAEnrolled || revocation.Billing != nil {
		t.Fatalf("expected enrollment to remain without a billing sync, got %+v", revocation)
	}

	revocation, err = env.engine.RevokePasskey(ctx, acc.ID, second)
	if err != nil {
		t.Fatalf("RevokePasskey: %v", err)
	}
	if revocation.MFAEnrolled {
		t.Fatal("expected enrollment to drop with the last factor")
	}
	if revocation.Billing == nil || !revocation.Billing.PremiumLocked {
		t.Fatalf("expected premium lock after losing MFA, got %+v", revocation.Billing)
	}
	if env.account(acc.ID).MFAEnrolled {
		t.Fatal("stored enrollment flag not cleared")
	}

	if _, err := env.engine.RevokePasskey(ctx, acc.ID, second); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound, got %v", err)
	}
}

func TestRevokePasskeyOfAnotherAccount(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createAccount("alice@example.com", "client", "free", true)
	bob := env.createAccount("bob@example.com", "client", "free", true)
	passkeyID := env.registerPasskey(alice.ID, "cred-1", 0)

	if _, err := env.engine.RevokePasskey(context.Background(), bob.ID, passkeyID); !errors.Is(err, ErrPasskeyNotFound) {
		t.Fatalf("expected ErrPasskeyNotFound, got %v", err)
	}
}
