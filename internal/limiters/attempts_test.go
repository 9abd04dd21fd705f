package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*AttemptLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewAttemptLimiter(rdb, "att", cfg), mr
}

func TestAttemptLimiterBlocksAfterMax(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "acc"); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if err := l.Check(ctx, "acc"); err != nil {
		t.Fatalf("check before limit: %v", err)
	}
	if err := l.RecordFailure(ctx, "acc"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third failure err = %v", err)
	}
	if err := l.Check(ctx, "acc"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("check after limit err = %v", err)
	}
	if err := l.Check(ctx, "other"); err != nil {
		t.Fatalf("other subject: %v", err)
	}
}

func TestAttemptLimiterWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "acc")
	if err := l.Check(ctx, "acc"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.Check(ctx, "acc"); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
}

func TestAttemptLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 1})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "acc")
	if err := l.Reset(ctx, "acc"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "acc"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestNilAttemptLimiter(t *testing.T) {
	var l *AttemptLimiter
	if err := l.Check(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordFailure(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
}
