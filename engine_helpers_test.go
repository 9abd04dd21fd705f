package mfaauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/identity"
	"github.com/nutricoach/mfaauth/internal/audit"
	"github.com/nutricoach/mfaauth/internal/passkey"
	"github.com/nutricoach/mfaauth/store/gormstore"
)

const testPassword = "correct-password-123"

var testEpoch = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type billingCall struct {
	AccountID string
	MFAActive bool
}

// recordingBilling records every sync before delegating to the real adapter.
type recordingBilling struct {
	inner *billing.Adapter

	mu    sync.Mutex
	calls []billingCall
}

func (r *recordingBilling) SyncMFAState(ctx context.Context, accountID, email string, mfaActive bool) (*billing.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, billingCall{AccountID: accountID, MFAActive: mfaActive})
	r.mu.Unlock()
	return r.inner.SyncMFAState(ctx, accountID, email, mfaActive)
}

func (r *recordingBilling) Calls() []billingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]billingCall(nil), r.calls...)
}

// fakeAssertion is the JSON body the fake ceremony accepts for both
// attestation and assertion responses.
type fakeAssertion struct {
	ID        string `json:"id"`
	SignCount uint32 `json:"signCount"`
	Invalid   bool   `json:"invalid"`
}

func fakeBody(t *testing.T, id string, signCount uint32, invalid bool) []byte {
	t.Helper()
	b, err := json.Marshal(fakeAssertion{ID: id, SignCount: signCount, Invalid: invalid})
	if err != nil {
		t.Fatalf("marshal fake body: %v", err)
	}
	return b
}

// fakeCeremony stands in for the WebAuthn relying party. It trusts the
// reported sign count so counter policy can be exercised.
type fakeCeremony struct{}

func (fakeCeremony) BeginRegistration(user *passkey.User) (*protocol.CredentialCreation, []byte, error) {
	return &protocol.CredentialCreation{}, []byte("registration:" + string(user.WebAuthnID())), nil
}

func (fakeCeremony) FinishRegistration(_ *passkey.User, state, attestation []byte) (*webauthn.Credential, error) {
	if len(state) == 0 {
		return nil, passkey.ErrSessionCorrupt
	}
	var body fakeAssertion
	if err := json.Unmarshal(attestation, &body); err != nil || body.Invalid {
		return nil, fmt.Errorf("%w: bad attestation", passkey.ErrVerification)
	}
	return &webauthn.Credential{
		ID:              []byte(body.ID),
		PublicKey:       []byte("public-key-" + body.ID),
		AttestationType: "none",
		Transport:       []protocol.AuthenticatorTransport{protocol.Internal},
		Authenticator:   webauthn.Authenticator{SignCount: body.SignCount},
	}, nil
}

func (fakeCeremony) BeginLogin(user *passkey.User) (*protocol.CredentialAssertion, []byte, error) {
	return &protocol.CredentialAssertion{}, []byte("login:" + string(user.WebAuthnID())), nil
}

func (fakeCeremony) FinishLogin(user *passkey.User, state, assertion []byte) (*webauthn.Credential, error) {
	if len(state) == 0 {
		return nil, passkey.ErrSessionCorrupt
	}
	var body fakeAssertion
	if err := json.Unmarshal(assertion, &body); err != nil || body.Invalid {
		return nil, fmt.Errorf("%w: bad assertion", passkey.ErrVerification)
	}
	for _, cred := range user.WebAuthnCredentials() {
		if string(cred.ID) == body.ID {
			passkey.ApplyPresentedCounter(&cred, body.SignCount)
			return &cred, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown credential", passkey.ErrVerification)
}

type testEnv struct {
	t       *testing.T
	engine  *Engine
	db      *gorm.DB
	store   *gormstore.Store
	redis   *miniredis.Miniredis
	clock   *fakeClock
	ids     *identity.Local
	billing *recordingBilling
	sink    *audit.ChannelSink
	cfg     Config
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Audit.DropIfFull = false
	cfg.Audit.BufferSize = 256
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gormstore.OpenSQLite(":memory:", gormstore.Options{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store := gormstore.New(db)

	clock := &fakeClock{now: testEpoch}

	hasher, err := identity.NewHasher(identity.HashConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	tokens, err := identity.NewTokenManager(identity.TokenConfig{
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "mfaauth-test",
		Audience:   "nutricoach",
		AccessTTL:  15 * time.Minute,
	}, clock.Now)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	ids, err := identity.NewLocal(store, hasher, tokens)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &recordingBilling{inner: billing.NewAdapter(nil, store, store, billing.Config{}, logger)}
	sink := audit.NewChannelSink(512)

	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(rdb).
		WithIdentityProvider(ids).
		WithBilling(rec).
		WithAuditSink(sink).
		WithLogger(logger).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	engine.passkeys = fakeCeremony{}
	t.Cleanup(engine.Close)

	return &testEnv{
		t:       t,
		engine:  engine,
		db:      db,
		store:   store,
		redis:   mr,
		clock:   clock,
		ids:     ids,
		billing: rec,
		sink:    sink,
		cfg:     cfg,
	}
}

func (env *testEnv) createAccount(email, role, tier string, mfaRequired bool) *credential.Account {
	env.t.Helper()
	hash, err := env.ids.HashPassword(testPassword)
	if err != nil {
		env.t.Fatalf("HashPassword: %v", err)
	}
	acc := &credential.Account{
		Email:            email,
		PasswordHash:     hash,
		Role:             role,
		SubscriptionTier: tier,
		MFARequired:      mfaRequired,
	}
	if err := env.store.CreateAccount(context.Background(), acc); err != nil {
		env.t.Fatalf("CreateAccount: %v", err)
	}
	return acc
}

func (env *testEnv) account(id string) *credential.Account {
	env.t.Helper()
	acc, err := env.store.GetAccount(context.Background(), id)
	if err != nil {
		env.t.Fatalf("GetAccount: %v", err)
	}
	return acc
}

func (env *testEnv) countRows(table string) int64 {
	env.t.Helper()
	var n int64
	if err := env.db.Table(table).Count(&n).Error; err != nil {
		env.t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func (env *testEnv) code(secret string) string {
	env.t.Helper()
	code, err := totp.GenerateCodeCustom(secret, env.clock.Now(), env.engine.totp.opts)
	if err != nil {
		env.t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

// enrollTOTP confirms a TOTP factor and moves the clock to the next step so
// the following login code is not a replay of the confirmation code.
func (env *testEnv) enrollTOTP(accountID string) (string, []string) {
	env.t.Helper()
	ctx := context.Background()
	enrollment, err := env.engine.StartTOTPEnrollment(ctx, accountID, "phone")
	if err != nil {
		env.t.Fatalf("StartTOTPEnrollment: %v", err)
	}
	confirmation, err := env.engine.ConfirmTOTPEnrollment(ctx, accountID, env.code(enrollment.Secret), "", "")
	if err != nil {
		env.t.Fatalf("ConfirmTOTPEnrollment: %v", err)
	}
	env.clock.Advance(time.Duration(env.cfg.TOTP.Period) * time.Second)
	return enrollment.Secret, confirmation.BackupCodes
}

func (env *testEnv) registerPasskey(accountID, credID string, signCount uint32) string {
	env.t.Helper()
	ctx := context.Background()
	if _, err := env.engine.StartPasskeyRegistration(ctx, accountID); err != nil {
		env.t.Fatalf("StartPasskeyRegistration: %v", err)
	}
	reg, err := env.engine.FinishPasskeyRegistration(ctx, accountID, "laptop", fakeBody(env.t, credID, signCount, false))
	if err != nil {
		env.t.Fatalf("FinishPasskeyRegistration: %v", err)
	}
	return reg.PasskeyID
}

func (env *testEnv) login(email string, mutate func(*LoginRequest)) (*LoginResult, error) {
	req := LoginRequest{Email: email, Password: testPassword}
	if mutate != nil {
		mutate(&req)
	}
	return env.engine.Login(context.Background(), req)
}

// auditEvents closes the engine and drains every delivered event.
func (env *testEnv) auditEvents() []audit.Event {
	env.engine.Close()
	var out []audit.Event
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasAuditEvent(events []audit.Event, eventType string, success bool) bool {
	for _, ev := range events {
		if ev.EventType == eventType && ev.Success == success {
			return true
		}
	}
	return false
}
