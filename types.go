package mfaauth

import (
	"context"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/identity"
	"github.com/nutricoach/mfaauth/internal/audit"
	"github.com/nutricoach/mfaauth/internal/passkey"
)

// Principal is the authenticated caller of an operation.
type Principal = identity.Principal

// AuditSink receives audit events from the Engine's dispatcher.
type AuditSink = audit.Sink

// AuditEvent is one append-only audit record.
type AuditEvent = audit.Event

// IdentityProvider verifies passwords and issues sessions. It owns the
// password credential; the Engine never sees a password hash.
type IdentityProvider interface {
	// VerifyPassword returns the account id, or identity.ErrInvalidCredentials.
	VerifyPassword(ctx context.Context, email, password string) (string, error)
	IssueSession(ctx context.Context, account *credential.Account, method string) (*identity.Session, error)
	Authenticate(ctx context.Context, accessToken string) (*identity.Principal, error)
}

// BillingSyncer projects MFA state into billing and the premium lock.
type BillingSyncer interface {
	SyncMFAState(ctx context.Context, accountID, email string, mfaActive bool) (*billing.Result, error)
}

type passkeyCeremony interface {
	BeginRegistration(user *passkey.User) (*protocol.CredentialCreation, []byte, error)
	FinishRegistration(user *passkey.User, state, attestation []byte) (*webauthn.Credential, error)
	BeginLogin(user *passkey.User) (*protocol.CredentialAssertion, []byte, error)
	FinishLogin(user *passkey.User, state, assertion []byte) (*webauthn.Credential, error)
}

// LoginRequest carries a password login and at most one useful second-factor
// proof. When several proofs are present they are tried in precedence order.
type LoginRequest struct {
	Email    string
	Password string

	OverrideToken    string
	Code             string
	BackupCode       string
	PasskeyAssertion []byte

	DeviceFingerprint string
	DeviceName        string
	RememberDevice    bool
}

// LoginResult is either a granted session or a second-factor prompt.
type LoginResult struct {
	RequiresMFA bool
	Session     *identity.Session
	// Method names the proof that satisfied MFA, or "password".
	Method string
	// BackupCodes is set only when an override login rotated the batch.
	BackupCodes []string
	Billing     *billing.Result
}

type TOTPEnrollment struct {
	Secret     string
	OTPAuthURI string
}

type TOTPConfirmation struct {
	// BackupCodes are returned exactly once.
	BackupCodes []string
	Billing     *billing.Result
}

type PasskeyRegistration struct {
	PasskeyID string
	Billing   *billing.Result
}

type PasskeyRevocation struct {
	MFAEnrolled bool
	Billing     *billing.Result
}

// IssueOverrideRequest asks for a login bypass for TargetAccountID.
// Zero ExpiresIn selects the configured default.
type IssueOverrideRequest struct {
	TargetAccountID string
	Reason          string
	ExpiresIn       time.Duration
}

// IssuedOverride holds the plaintext token. It is never retrievable again.
type IssuedOverride struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// MFAStatus summarizes an account's second factors.
type MFAStatus struct {
	MFARequired          bool
	MFAEnrolled          bool
	MFAVerifiedAt        *time.Time
	TOTPConfirmed        bool
	TOTPPending          bool
	Passkeys             []PasskeySummary
	BackupCodesRemaining int64
	PremiumLocked        bool
	PremiumLockReason    string
}

type PasskeySummary struct {
	ID           string
	FriendlyName string
	Transports   []string
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}
