package passkey

import (
	"bytes"
	"errors"
	"testing"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/nutricoach/mfaauth/credential"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{
		RPID:          "localhost",
		RPDisplayName: "NutriCoach",
		RPOrigins:     []string{"http://localhost:3000"},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewRequiresRelyingParty(t *testing.T) {
	if _, err := New(Config{RPID: "localhost"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestBeginRegistrationExcludesExisting(t *testing.T) {
	svc := newTestService(t)
	account := &credential.Account{ID: "acc-1", Email: "a@example.com"}
	user := NewUser(account, []credential.Passkey{{CredentialID: []byte("cred-1"), PublicKey: []byte("pk")}})

	options, state, err := svc.BeginRegistration(user)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if len(state) == 0 {
		t.Fatal("empty ceremony state")
	}
	excluded := options.Response.CredentialExcludeList
	if len(excluded) != 1 || !bytes.Equal(excluded[0].CredentialID, []byte("cred-1")) {
		t.Fatalf("exclusions = %+v", excluded)
	}
	if options.Response.RelyingParty.ID != "localhost" {
		t.Fatalf("rp id = %q", options.Response.RelyingParty.ID)
	}
}

func TestBeginLoginRoundTripsState(t *testing.T) {
	svc := newTestService(t)
	account := &credential.Account{ID: "acc-1", Email: "a@example.com"}
	user := NewUser(account, []credential.Passkey{{CredentialID: []byte("cred-1"), PublicKey: []byte("pk")}})

	options, state, err := svc.BeginLogin(user)
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	session, err := decodeSession(state)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.Challenge != options.Response.Challenge.String() {
		t.Fatalf("challenge mismatch: %q vs %q", session.Challenge, options.Response.Challenge.String())
	}
	if len(options.Response.AllowedCredentials) != 1 {
		t.Fatalf("allowed = %d", len(options.Response.AllowedCredentials))
	}
}

func TestFinishLoginRejectsGarbage(t *testing.T) {
	svc := newTestService(t)
	account := &credential.Account{ID: "acc-1", Email: "a@example.com"}
	user := NewUser(account, nil)
	_, state, err := svc.BeginRegistration(user)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := svc.FinishLogin(user, state, []byte(`{"id":"nope"}`)); !errors.Is(err, ErrVerification) {
		t.Fatalf("err = %v, want ErrVerification", err)
	}
	if _, err := svc.FinishLogin(user, []byte("{"), []byte(`{}`)); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("err = %v, want ErrSessionCorrupt", err)
	}
}

func TestCredentialConversion(t *testing.T) {
	stored := &credential.Passkey{
		CredentialID:   []byte("id"),
		PublicKey:      []byte("pk"),
		SignCount:      7,
		Transports:     []string{"usb", "internal"},
		BackupEligible: true,
	}
	cred := ToWebAuthn(stored)
	if cred.Authenticator.SignCount != 7 || len(cred.Transport) != 2 || cred.Transport[1] != protocol.Internal {
		t.Fatalf("unexpected credential %+v", cred)
	}
	back := FromWebAuthn(&cred)
	if back.SignCount != 7 || !back.BackupEligible || back.Transports[0] != "usb" {
		t.Fatalf("unexpected passkey %+v", back)
	}
}
