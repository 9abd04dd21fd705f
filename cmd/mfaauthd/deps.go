package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nutricoach/mfaauth/internal/logging"
	"github.com/nutricoach/mfaauth/internal/settings"
	"github.com/nutricoach/mfaauth/store/gormstore"
)

func loadSettings(path string) (*settings.Settings, *slog.Logger, error) {
	s, err := settings.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(os.Stderr, s.Log.Level, s.Log.Format)
	slog.SetDefault(logger)
	return s, logger, nil
}

func openDatabase(s *settings.Settings) (*gorm.DB, error) {
	opts := gormstore.Options{
		MaxOpenConns:    s.Database.MaxOpenConns,
		MaxIdleConns:    s.Database.MaxIdleConns,
		ConnMaxLifetime: s.Database.ConnMaxLifetime,
	}
	switch s.Database.Driver {
	case "postgres":
		return gormstore.OpenPostgres(s.Database.DSN, opts)
	case "sqlite":
		return gormstore.OpenSQLite(s.Database.DSN, opts)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", s.Database.Driver)
	}
}

func closeDatabase(db *gorm.DB, logger *slog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("close database", "error", err)
	}
}

func openRedis(ctx context.Context, s *settings.Settings) (*redis.Client, error) {
	if s.Redis.Addr == "" {
		return nil, errors.New("redis.addr must be set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", s.Redis.Addr, err)
	}
	return client, nil
}
