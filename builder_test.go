package mfaauth

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestBuilderRequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	rdb := redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := New().WithRedis(rdb).WithIdentityProvider(env.ids).Build(); err == nil {
		t.Fatal("expected error without a store")
	}
	if _, err := New().WithStore(env.store).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without an identity provider")
	}
	if _, err := New().WithStore(env.store).WithIdentityProvider(env.ids).Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	bad := DefaultConfig()
	bad.TOTP.Digits = 5
	if _, err := New().WithConfig(bad).WithStore(env.store).WithRedis(rdb).WithIdentityProvider(env.ids).Build(); err == nil {
		t.Fatal("expected config validation error")
	}

	b := New().WithStore(env.store).WithRedis(rdb).WithIdentityProvider(env.ids)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected a builder to be single use")
	}
}

func TestBuilderDefaultsToLocalBilling(t *testing.T) {
	env := newTestEnv(t)
	rdb := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := New().WithStore(env.store).WithRedis(rdb).WithIdentityProvider(env.ids).WithClock(env.clock.Now).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	acc := env.createAccount("alice@example.com", "client", "premium", true)
	result, err := engine.SyncBilling(context.Background(), Principal{AccountID: acc.ID, Role: "client"}, "")
	if err != nil {
		t.Fatalf("SyncBilling: %v", err)
	}
	if result.Synced || !result.PremiumLocked {
		t.Fatalf("expected a local-only locked result, got %+v", result)
	}
}

func TestPasskeysDisabledWithoutRelyingParty(t *testing.T) {
	env := newTestEnv(t)
	rdb := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := New().WithStore(env.store).WithRedis(rdb).WithIdentityProvider(env.ids).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	acc := env.createAccount("alice@example.com", "client", "free", true)
	if _, err := engine.StartPasskeyRegistration(context.Background(), acc.ID); !errors.Is(err, ErrPasskeyNotConfigured) {
		t.Fatalf("expected ErrPasskeyNotConfigured, got %v", err)
	}
	options, err := engine.PasskeyChallenge(context.Background(), "alice@example.com")
	if err != nil || options != nil {
		t.Fatalf("expected no options without a relying party, got %v %v", options, err)
	}
}

func TestBuilderWithRelyingParty(t *testing.T) {
	env := newTestEnv(t)
	rdb := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultConfig()
	cfg.Passkey.RPID = "nutricoach.app"
	cfg.Passkey.RPDisplayName = "NutriCoach"
	cfg.Passkey.RPOrigins = []string{"https://nutricoach.app"}

	engine, err := New().WithConfig(cfg).WithStore(env.store).WithRedis(rdb).WithIdentityProvider(env.ids).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	acc := env.createAccount("alice@example.com", "client", "free", true)
	options, err := engine.StartPasskeyRegistration(context.Background(), acc.ID)
	if err != nil {
		t.Fatalf("StartPasskeyRegistration: %v", err)
	}
	if options.Response.RelyingParty.ID != "nutricoach.app" {
		t.Fatalf("unexpected relying party %+v", options.Response.RelyingParty)
	}
}
