// Package credential defines the persisted records of the MFA subsystem and
// the Store port that the login and enrollment flows run against.
//
// Implementations must make every single-use transition (backup code,
// override token, passkey counter, TOTP step) an atomic conditional update.
package credential

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("credential: not found")
	// ErrDuplicateCredential is returned when a passkey credential id is already registered.
	ErrDuplicateCredential = errors.New("credential: passkey credential already registered")
)

// FactorKind distinguishes second-factor variants.
type FactorKind string

const (
	FactorTOTP    FactorKind = "totp"
	FactorPasskey FactorKind = "passkey"
)

// ConsumeResult reports the outcome of a single-use consumption attempt.
type ConsumeResult int

const (
	// ConsumeOK means this call performed the transition.
	ConsumeOK ConsumeResult = iota
	// ConsumeNotFound means no matching record exists.
	ConsumeNotFound
	// ConsumeAlreadyUsed means the record exists but was consumed earlier.
	ConsumeAlreadyUsed
	// ConsumeExpired means the record exists, is unconsumed, and is past its expiry.
	ConsumeExpired
)

func (r ConsumeResult) String() string {
	switch r {
	case ConsumeOK:
		return "ok"
	case ConsumeNotFound:
		return "not_found"
	case ConsumeAlreadyUsed:
		return "already_used"
	case ConsumeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Account is the local projection of an end user.
type Account struct {
	ID                string
	Email             string
	PasswordHash      string
	Role              string
	SubscriptionTier  string
	BillingCustomerID string
	MFARequired       bool
	MFAEnrolled       bool
	MFAVerifiedAt     *time.Time
	PremiumLocked     bool
	PremiumLockReason string
	CreatedAt         time.Time
}

// HasPaidTier reports whether the account holds a paid subscription.
func (a *Account) HasPaidTier() bool {
	switch a.SubscriptionTier {
	case "", "free":
		return false
	default:
		return true
	}
}

// Factor is an enrolled (or pending) second factor.
type Factor struct {
	ID           string
	AccountID    string
	Kind         FactorKind
	FriendlyName string
	Secret       string
	LastUsedStep int64
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
}

// Confirmed reports whether enrollment of the factor completed.
func (f *Factor) Confirmed() bool {
	return f != nil && f.ConfirmedAt != nil
}

// Passkey is a registered WebAuthn credential and its owning factor.
type Passkey struct {
	ID              string
	FactorID        string
	AccountID       string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32
	Transports      []string
	BackupEligible  bool
	BackupState     bool
	FriendlyName    string
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

// BackupCode is one hashed member of a recovery batch.
type BackupCode struct {
	ID         string
	AccountID  string
	CodeHash   string
	Hint       string
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// OverrideToken is an administrator-issued login bypass.
type OverrideToken struct {
	ID         string
	AccountID  string
	TokenHash  string
	IssuedBy   string
	Reason     string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// TrustedDevice pairs an account with a hashed client fingerprint.
type TrustedDevice struct {
	ID              string
	AccountID       string
	FingerprintHash string
	Name            string
	LastSeenAt      time.Time
	RevokedAt       *time.Time
	CreatedAt       time.Time
}

// Revoked reports whether the device was revoked.
func (d *TrustedDevice) Revoked() bool {
	return d.RevokedAt != nil
}

// Store is the persistence port for accounts and credentials.
type Store interface {
	// InTx runs fn against a Store bound to one transaction. Any error
	// returned by fn rolls back every write made through that Store.
	InTx(ctx context.Context, fn func(Store) error) error

	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	SetMFAEnrolled(ctx context.Context, accountID string, enrolled bool) error
	// StampMFAVerified records a successful factor check and clears any premium lock.
	StampMFAVerified(ctx context.Context, accountID string, at time.Time) error
	// SetPremiumLock stores the lock flag and returns the previous value.
	SetPremiumLock(ctx context.Context, accountID string, locked bool, reason string) (bool, error)
	SetBillingCustomerID(ctx context.Context, accountID, customerID string) error

	// UpsertTOTPFactor replaces the account's TOTP factor with an unconfirmed one.
	UpsertTOTPFactor(ctx context.Context, accountID, secret, friendlyName string, at time.Time) (*Factor, error)
	GetTOTPFactor(ctx context.Context, accountID string) (*Factor, error)
	// ConfirmTOTPFactor confirms the factor only if it is still unconfirmed
	// and still holds secret.
	ConfirmTOTPFactor(ctx context.Context, factorID, secret string, at time.Time) (bool, error)
	// AdvanceTOTPStep records step only if it is greater than the stored one.
	AdvanceTOTPStep(ctx context.Context, factorID string, step int64) (bool, error)
	CountConfirmedFactors(ctx context.Context, accountID string) (int64, error)

	CreatePasskey(ctx context.Context, passkey *Passkey) error
	ListPasskeys(ctx context.Context, accountID string) ([]Passkey, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (*Passkey, error)
	// CompareAndSwapSignCount moves the counter from expected to next.
	CompareAndSwapSignCount(ctx context.Context, passkeyID string, expected, next uint32, at time.Time) (bool, error)
	// DeletePasskey removes the credential and its owning factor.
	DeletePasskey(ctx context.Context, accountID, passkeyID string) (bool, error)

	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCode) error
	ConsumeBackupCode(ctx context.Context, accountID, codeHash string, at time.Time) (ConsumeResult, error)
	CountRemainingBackupCodes(ctx context.Context, accountID string) (int64, error)

	CreateOverrideToken(ctx context.Context, token *OverrideToken) error
	ConsumeOverrideToken(ctx context.Context, accountID, tokenHash string, at time.Time) (ConsumeResult, error)

	// UpsertTrustedDevice creates or refreshes a device. A revoked row stays revoked.
	UpsertTrustedDevice(ctx context.Context, accountID, fingerprintHash, name string, at time.Time) (*TrustedDevice, error)
	// TouchTrustedDevice refreshes lastSeenAt of a non-revoked device.
	TouchTrustedDevice(ctx context.Context, accountID, fingerprintHash string, at time.Time) (bool, error)
	ListTrustedDevices(ctx context.Context, accountID string) ([]TrustedDevice, error)
	RevokeTrustedDevice(ctx context.Context, accountID, deviceID string, at time.Time) (bool, error)
}
