// Command mfaauth-loadtest drives concurrent logins through an Engine backed
// by SQLite and Redis (or miniredis) and reports latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/nutricoach/mfaauth"
	"github.com/nutricoach/mfaauth/billing"
	"github.com/nutricoach/mfaauth/credential"
	"github.com/nutricoach/mfaauth/identity"
	"github.com/nutricoach/mfaauth/store/gormstore"
)

const password = "loadtest-password"

type accountState struct {
	email  string
	codes  []string
	cursor int64
}

func main() {
	var (
		accounts    = flag.Int("accounts", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 1000, "logins per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		dsn         = flag.String("sqlite", ":memory:", "sqlite dsn")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	engine, store, hasher, err := buildEngine(client, *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	states, err := seed(ctx, engine, store, hasher, *accounts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	passwordStats := runPhase(states, *ops, *concurrency, func(s *accountState) error {
		res, err := engine.Login(ctx, mfaauth.LoginRequest{Email: s.email, Password: password})
		if err != nil {
			return err
		}
		if !res.RequiresMFA {
			return fmt.Errorf("login without a factor was granted")
		}
		return nil
	})
	backupStats := runPhase(states, *ops, *concurrency, func(s *accountState) error {
		i := atomic.AddInt64(&s.cursor, 1) - 1
		if int(i) >= len(s.codes) {
			return fmt.Errorf("backup codes exhausted")
		}
		_, err := engine.Login(ctx, mfaauth.LoginRequest{Email: s.email, Password: password, BackupCode: s.codes[i]})
		return err
	})
	winners := runContended(ctx, engine, states[0], *concurrency)

	fmt.Println("---- results ----")
	printStats("mfa prompt", passwordStats)
	printStats("backup code", backupStats)
	fmt.Printf("contended backup code: workers=%d winners=%d\n", *concurrency, winners)

	snap := engine.MetricsSnapshot()
	fmt.Printf("login_success=%d mfa_required=%d\n",
		snap.Counters[mfaauth.MetricLoginSuccess], snap.Counters[mfaauth.MetricMFARequired])
}

func buildEngine(client redis.UniversalClient, dsn string) (*mfaauth.Engine, *gormstore.Store, *identity.Hasher, error) {
	db, err := gormstore.OpenSQLite(dsn, gormstore.Options{})
	if err != nil {
		return nil, nil, nil, err
	}
	store := gormstore.New(db)

	hasher, err := identity.NewHasher(identity.HashConfig{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		return nil, nil, nil, err
	}
	tokens, err := identity.NewTokenManager(identity.TokenConfig{
		SigningKey: []byte("loadtest-signing-key-0123456789ab"),
		Issuer:     "mfaauth-loadtest",
		Audience:   "nutricoach",
		AccessTTL:  15 * time.Minute,
	}, time.Now)
	if err != nil {
		return nil, nil, nil, err
	}
	local, err := identity.NewLocal(store, hasher, tokens)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := mfaauth.DefaultConfig()
	cfg.Limits.MaxMFAAttempts = 1 << 20
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := mfaauth.New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(client).
		WithIdentityProvider(local).
		WithBilling(billing.NewAdapter(nil, store, store, billing.Config{}, logger)).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, nil, nil, err
	}
	return engine, store, hasher, nil
}

func seed(ctx context.Context, engine *mfaauth.Engine, store *gormstore.Store, hasher *identity.Hasher, n int) ([]*accountState, error) {
	hash, err := hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	states := make([]*accountState, 0, n)
	for i := 0; i < n; i++ {
		account := &credential.Account{
			Email:            fmt.Sprintf("client-%d@loadtest.nutricoach.app", i),
			PasswordHash:     hash,
			Role:             "client",
			SubscriptionTier: "premium",
			MFARequired:      true,
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			return nil, err
		}
		enrollment, err := engine.StartTOTPEnrollment(ctx, account.ID, "loadtest")
		if err != nil {
			return nil, err
		}
		code, err := totp.GenerateCodeCustom(enrollment.Secret, time.Now(), totp.ValidateOpts{
			Period:    30,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return nil, err
		}
		confirmation, err := engine.ConfirmTOTPEnrollment(ctx, account.ID, code, "", "")
		if err != nil {
			return nil, err
		}
		states = append(states, &accountState{email: account.Email, codes: confirmation.BackupCodes})
	}
	return states, nil
}

func runPhase(states []*accountState, ops, concurrency int, op func(*accountState) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(states[r.Intn(len(states))])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runContended has every worker redeem the same unused backup code and
// returns how many logins were granted. Anything other than 1 is a bug.
func runContended(ctx context.Context, engine *mfaauth.Engine, s *accountState, concurrency int) int64 {
	i := atomic.AddInt64(&s.cursor, 1) - 1
	if int(i) >= len(s.codes) {
		return 0
	}
	code := s.codes[i]

	var (
		wg      sync.WaitGroup
		winners int64
		start   = make(chan struct{})
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := engine.Login(ctx, mfaauth.LoginRequest{Email: s.email, Password: password, BackupCode: code})
			if err == nil && !res.RequiresMFA {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	return winners
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
