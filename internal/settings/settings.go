// Package settings loads mfaauthd's process settings from a YAML file and
// MFAAUTH_* environment variables.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nutricoach/mfaauth"
)

const envPrefix = "MFAAUTH"

// MinSigningKeyLen is the shortest accepted JWT signing key.
const MinSigningKeyLen = 32

var ErrSigningKeyMissing = errors.New("settings: auth.jwt_signing_key missing or shorter than 32 bytes")

type Settings struct {
	HTTP     HTTPSettings     `mapstructure:"http"`
	Database DatabaseSettings `mapstructure:"database"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Passkey  PasskeySettings  `mapstructure:"passkey"`
	Billing  BillingSettings  `mapstructure:"billing"`
	MFA      MFASettings      `mapstructure:"mfa"`
	Log      LogSettings      `mapstructure:"log"`
	Metrics  MetricsSettings  `mapstructure:"metrics"`
}

type HTTPSettings struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseSettings struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisSettings struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type AuthSettings struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
}

type PasskeySettings struct {
	RPID          string        `mapstructure:"rp_id"`
	RPDisplayName string        `mapstructure:"rp_display_name"`
	RPOrigins     []string      `mapstructure:"rp_origins"`
	ChallengeTTL  time.Duration `mapstructure:"challenge_ttl"`
}

type BillingSettings struct {
	// StripeSecretKey empty selects local-only billing.
	StripeSecretKey string        `mapstructure:"stripe_secret_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type MFASettings struct {
	TOTPIssuer      string        `mapstructure:"totp_issuer"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	AttemptCooldown time.Duration `mapstructure:"attempt_cooldown"`
	OverrideTTL     time.Duration `mapstructure:"override_ttl"`
	OverrideMaxTTL  time.Duration `mapstructure:"override_max_ttl"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsSettings struct {
	Addr string `mapstructure:"addr"`
	// OTel installs a global MeterProvider that logs a snapshot every
	// OTelInterval.
	OTel         bool          `mapstructure:"otel"`
	OTelInterval time.Duration `mapstructure:"otel_interval"`
}

func setDefaults(v *viper.Viper) {
	def := mfaauth.DefaultConfig()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", def.Redis.KeyPrefix)

	v.SetDefault("auth.jwt_signing_key", "")
	v.SetDefault("auth.issuer", "mfaauth")
	v.SetDefault("auth.audience", "nutricoach")
	v.SetDefault("auth.access_ttl", 15*time.Minute)

	v.SetDefault("passkey.rp_id", "")
	v.SetDefault("passkey.rp_display_name", def.TOTP.Issuer)
	v.SetDefault("passkey.rp_origins", []string{})
	v.SetDefault("passkey.challenge_ttl", def.Passkey.ChallengeTTL)

	v.SetDefault("billing.stripe_secret_key", "")
	v.SetDefault("billing.timeout", def.Timeouts.Billing)

	v.SetDefault("mfa.totp_issuer", def.TOTP.Issuer)
	v.SetDefault("mfa.max_attempts", def.Limits.MaxMFAAttempts)
	v.SetDefault("mfa.attempt_cooldown", def.Limits.MFACooldown)
	v.SetDefault("mfa.override_ttl", def.Override.DefaultTTL)
	v.SetDefault("mfa.override_max_ttl", def.Override.MaxTTL)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.otel", false)
	v.SetDefault("metrics.otel_interval", time.Minute)
}

// Load reads path when it is non-empty, otherwise looks for config.yaml in
// ./configs and the working directory. A missing file is not an error; env
// variables and defaults still apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("settings: read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("settings: unmarshal: %w", err)
	}
	return &s, nil
}

// Validate checks the settings needed to serve traffic.
func (s *Settings) Validate() error {
	if len(s.Auth.JWTSigningKey) < MinSigningKeyLen {
		return ErrSigningKeyMissing
	}
	switch s.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("settings: unsupported database.driver %q", s.Database.Driver)
	}
	if s.Database.DSN == "" {
		return errors.New("settings: database.dsn must be set")
	}
	if s.Redis.Addr == "" {
		return errors.New("settings: redis.addr must be set")
	}
	return nil
}

// EngineConfig overlays the settings onto the engine defaults.
func (s *Settings) EngineConfig() mfaauth.Config {
	cfg := mfaauth.DefaultConfig()
	if s.MFA.TOTPIssuer != "" {
		cfg.TOTP.Issuer = s.MFA.TOTPIssuer
	}
	cfg.Passkey.RPID = s.Passkey.RPID
	cfg.Passkey.RPDisplayName = s.Passkey.RPDisplayName
	cfg.Passkey.RPOrigins = append([]string(nil), s.Passkey.RPOrigins...)
	if s.Passkey.ChallengeTTL > 0 {
		cfg.Passkey.ChallengeTTL = s.Passkey.ChallengeTTL
	}
	if s.MFA.MaxAttempts > 0 {
		cfg.Limits.MaxMFAAttempts = s.MFA.MaxAttempts
	}
	if s.MFA.AttemptCooldown > 0 {
		cfg.Limits.MFACooldown = s.MFA.AttemptCooldown
	}
	if s.MFA.OverrideTTL > 0 {
		cfg.Override.DefaultTTL = s.MFA.OverrideTTL
	}
	if s.MFA.OverrideMaxTTL > 0 {
		cfg.Override.MaxTTL = s.MFA.OverrideMaxTTL
	}
	if s.Billing.Timeout > 0 {
		cfg.Timeouts.Billing = s.Billing.Timeout
	}
	if s.Redis.KeyPrefix != "" {
		cfg.Redis.KeyPrefix = s.Redis.KeyPrefix
	}
	return cfg
}
