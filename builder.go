package mfaauth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/internal/audit"
	"github.com/nutricoach/mfaauth/internal/limiters"
	"github.com/nutricoach/mfaauth/internal/passkey"
	"github.com/nutricoach/mfaauth/internal/stores"
	"github.com/nutricoach/mfaauth/permission"
)

// Builder collects Engine dependencies. It may be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     credential.Store
	identity  IdentityProvider
	billing   BillingSyncer
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the challenge ledger and attempt limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(store credential.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithIdentityProvider(provider IdentityProvider) *Builder {
	b.identity = provider
	return b
}

// WithBilling replaces the default local-only billing projection.
func (b *Builder) WithBilling(syncer BillingSyncer) *Builder {
	b.billing = syncer
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for expiry and TOTP step computation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store is required")
	}
	if b.identity == nil {
		return nil, errors.New("identity provider is required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	roles, err := permission.FromRoles(cfg.Roles)
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}

	var ceremony passkeyCeremony
	if cfg.Passkey.Enabled() {
		svc, err := passkey.New(passkey.Config{
			RPID:          cfg.Passkey.RPID,
			RPDisplayName: cfg.Passkey.RPDisplayName,
			RPOrigins:     cfg.Passkey.RPOrigins,
			Timeout:       cfg.Passkey.ChallengeTTL,
		})
		if err != nil {
			return nil, err
		}
		ceremony = svc
	}

	syncer := b.billing
	if syncer == nil {
		entitlements, _ := b.store.(billing.Entitlements)
		syncer = billing.NewAdapter(nil, b.store, entitlements, billing.Config{Timeout: cfg.Timeouts.Billing, Now: now}, logger)
	}

	e := &Engine{
		config:   cfg,
		logger:   logger,
		store:    b.store,
		identity: b.identity,
		billing:  syncer,
		limiter: limiters.NewAttemptLimiter(b.redis, cfg.Redis.KeyPrefix+":attempts", limiters.Config{
			MaxAttempts: cfg.Limits.MaxMFAAttempts,
			Cooldown:    cfg.Limits.MFACooldown,
		}),
		challenges: stores.NewChallengeLedger(b.redis, cfg.Redis.KeyPrefix+":webauthn", now),
		passkeys:   ceremony,
		totp:       newTOTPManager(cfg.TOTP),
		roles:      roles,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:     cfg.Audit.Enabled,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, b.auditSink, logger),
		metrics: NewMetrics(cfg.Metrics),
		now:     now,
	}

	b.built = true
	return e, nil
}
