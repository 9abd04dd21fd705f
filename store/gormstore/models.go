package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

type accountModel struct {
	ID                string `gorm:"primaryKey;size:36"`
	Email             string `gorm:"size:320;not null;uniqueIndex"`
	PasswordHash      string `gorm:"size:255"`
	Role              string `gorm:"size:32;not null"`
	SubscriptionTier  string `gorm:"size:32"`
	BillingCustomerID string `gorm:"size:64"`
	MFARequired       bool   `gorm:"column:mfa_required;not null"`
	MFAEnrolled       bool   `gorm:"column:mfa_enrolled;not null"`
	MFAVerifiedAt     *time.Time `gorm:"column:mfa_verified_at"`
	PremiumLocked     bool       `gorm:"not null"`
	PremiumLockReason string     `gorm:"size:64"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (accountModel) TableName() string { return "accounts" }

// factorModel holds both variants. TOTPAccountID is set only for totp rows
// so the unique index allows one TOTP factor per account while passkey rows
// leave it NULL.
type factorModel struct {
	ID            string  `gorm:"primaryKey;size:36"`
	AccountID     string  `gorm:"size:36;not null;index"`
	Kind          string  `gorm:"size:16;not null"`
	TOTPAccountID *string `gorm:"column:totp_account_id;size:36;uniqueIndex"`
	FriendlyName  string  `gorm:"size:100"`
	Secret        string  `gorm:"size:128"`
	LastUsedStep  int64   `gorm:"not null;default:0"`
	ConfirmedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (factorModel) TableName() string { return "mfa_factors" }

type passkeyModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	FactorID        string `gorm:"size:36;not null;uniqueIndex"`
	AccountID       string `gorm:"size:36;not null;index"`
	CredentialID    []byte `gorm:"not null;uniqueIndex"`
	PublicKey       []byte `gorm:"not null"`
	AttestationType string `gorm:"size:32"`
	AAGUID          []byte
	SignCount       int64                       `gorm:"not null;default:0"`
	Transports      datatypes.JSONSlice[string] `gorm:"type:json"`
	BackupEligible  bool                        `gorm:"not null"`
	BackupState     bool                        `gorm:"not null"`
	FriendlyName    string                      `gorm:"size:100"`
	LastUsedAt      *time.Time
	CreatedAt       time.Time
}

func (passkeyModel) TableName() string { return "passkeys" }

type backupCodeModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	AccountID  string `gorm:"size:36;not null;index:idx_backup_codes_lookup,priority:1"`
	CodeHash   string `gorm:"size:64;not null;index:idx_backup_codes_lookup,priority:2"`
	Hint       string `gorm:"size:8"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

func (backupCodeModel) TableName() string { return "backup_codes" }

type overrideTokenModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	AccountID  string `gorm:"size:36;not null;index"`
	TokenHash  string `gorm:"size:64;not null;uniqueIndex"`
	IssuedBy   string `gorm:"size:36;not null"`
	Reason     string `gorm:"size:500"`
	ExpiresAt  time.Time `gorm:"not null"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

func (overrideTokenModel) TableName() string { return "override_tokens" }

type trustedDeviceModel struct {
	ID              string `gorm:"primaryKey;size:36"`
	AccountID       string `gorm:"size:36;not null;uniqueIndex:idx_trusted_devices_fp,priority:1"`
	FingerprintHash string `gorm:"size:64;not null;uniqueIndex:idx_trusted_devices_fp,priority:2"`
	Name            string `gorm:"size:100"`
	LastSeenAt      time.Time `gorm:"not null"`
	RevokedAt       *time.Time
	CreatedAt       time.Time
}

func (trustedDeviceModel) TableName() string { return "trusted_devices" }

type auditEventModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	AccountID string `gorm:"size:36;index"`
	ActorID   string `gorm:"size:36"`
	EventType string `gorm:"size:64;not null;index"`
	Success   bool   `gorm:"not null"`
	Error     string `gorm:"size:255"`
	IP        string `gorm:"size:64"`
	Metadata  datatypes.JSONMap `gorm:"type:json"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (auditEventModel) TableName() string { return "audit_events" }

type contentUnlockModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	AccountID string `gorm:"size:36;not null;index"`
	ContentID string `gorm:"size:64;not null"`
	Premium   bool   `gorm:"not null"`
	GrantedAt time.Time
}

func (contentUnlockModel) TableName() string { return "content_unlocks" }

func allModels() []any {
	return []any{
		&accountModel{},
		&factorModel{},
		&passkeyModel{},
		&backupCodeModel{},
		&overrideTokenModel{},
		&trustedDeviceModel{},
		&auditEventModel{},
		&contentUnlockModel{},
	}
}
