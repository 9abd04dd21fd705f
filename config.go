package mfaauth

import (
	"errors"
	"fmt"
	"time"
)

const (
	// PermOverrideIssue allows issuing MFA override tokens.
	PermOverrideIssue = "mfa.override.issue"
	// PermBillingSyncAny allows syncing another account's billing state.
	PermBillingSyncAny = "billing.sync.any"
)

// Config is the immutable Engine configuration.
type Config struct {
	TOTP        TOTPConfig
	Passkey     PasskeyConfig
	BackupCodes BackupCodeConfig
	Override    OverrideConfig
	Limits      LimitsConfig
	Timeouts    TimeoutsConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Redis       RedisConfig

	// Roles maps role names to permission names.
	Roles map[string][]string
}

// TOTPConfig controls secret provisioning and code verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	// Skew is the number of periods accepted on either side of now.
	Skew int
}

// PasskeyConfig holds the relying party settings. An empty RPID disables
// passkey ceremonies.
type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	ChallengeTTL  time.Duration
}

// Enabled reports whether a relying party is configured.
func (c PasskeyConfig) Enabled() bool {
	return c.RPID != ""
}

type BackupCodeConfig struct {
	Count  int
	Length int
}

type OverrideConfig struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// LimitsConfig bounds failed second-factor attempts per account.
type LimitsConfig struct {
	MaxMFAAttempts int
	MFACooldown    time.Duration
}

// TimeoutsConfig bounds calls to external collaborators.
type TimeoutsConfig struct {
	Identity time.Duration
	Billing  time.Duration
}

type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RedisConfig namespaces the Engine's keys.
type RedisConfig struct {
	KeyPrefix string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer:    "NutriCoach",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
		},
		Passkey: PasskeyConfig{
			ChallengeTTL: 5 * time.Minute,
		},
		BackupCodes: BackupCodeConfig{
			Count:  10,
			Length: 10,
		},
		Override: OverrideConfig{
			DefaultTTL: 30 * time.Minute,
			MaxTTL:     24 * time.Hour,
		},
		Limits: LimitsConfig{
			MaxMFAAttempts: 5,
			MFACooldown:    5 * time.Minute,
		},
		Timeouts: TimeoutsConfig{
			Identity: 5 * time.Second,
			Billing:  5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Redis: RedisConfig{
			KeyPrefix: "mfa",
		},
		Roles: DefaultRoles(),
	}
}

// DefaultRoles returns the built-in role table.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"admin":  {PermOverrideIssue, PermBillingSyncAny},
		"coach":  {},
		"client": {},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Passkey.RPOrigins = append([]string(nil), cfg.Passkey.RPOrigins...)
	if cfg.Roles != nil {
		out.Roles = make(map[string][]string, len(cfg.Roles))
		for role, perms := range cfg.Roles {
			out.Roles[role] = append([]string(nil), perms...)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	switch c.TOTP.Algorithm {
	case "SHA1", "SHA256", "SHA512":
	default:
		return fmt.Errorf("TOTP Algorithm %q is not supported", c.TOTP.Algorithm)
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}

	// Passkeys
	if c.Passkey.Enabled() {
		if c.Passkey.RPDisplayName == "" {
			return errors.New("Passkey RPDisplayName must be set when RPID is set")
		}
		if len(c.Passkey.RPOrigins) == 0 {
			return errors.New("Passkey RPOrigins must be set when RPID is set")
		}
	}
	if c.Passkey.ChallengeTTL <= 0 {
		return errors.New("Passkey ChallengeTTL must be > 0")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > 50 {
		return errors.New("BackupCodes Count must be between 1 and 50")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length > 32 {
		return errors.New("BackupCodes Length must be between 8 and 32")
	}

	// Overrides
	if c.Override.DefaultTTL < time.Minute {
		return errors.New("Override DefaultTTL must be >= 1m")
	}
	if c.Override.MaxTTL < c.Override.DefaultTTL {
		return errors.New("Override MaxTTL must be >= DefaultTTL")
	}

	// Limits
	if c.Limits.MaxMFAAttempts <= 0 {
		return errors.New("Limits MaxMFAAttempts must be > 0")
	}
	if c.Limits.MFACooldown <= 0 {
		return errors.New("Limits MFACooldown must be > 0")
	}

	if c.Timeouts.Identity <= 0 || c.Timeouts.Billing <= 0 {
		return errors.New("Timeouts must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if len(c.Roles) == 0 {
		return errors.New("Roles must not be empty")
	}
	if c.Redis.KeyPrefix == "" {
		return errors.New("Redis KeyPrefix must be set")
	}

	return nil
}
