package gormstore

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationDir = "migrations"

// Migrate runs a goose command ("up", "down", "status") against db using
// the embedded SQL migrations.
func Migrate(ctx context.Context, db *gorm.DB, dialect, command string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("migrate: set dialect: %w", err)
	}

	switch command {
	case "up":
		return goose.UpContext(ctx, sqlDB, migrationDir)
	case "down":
		return goose.DownContext(ctx, sqlDB, migrationDir)
	case "status":
		return goose.StatusContext(ctx, sqlDB, migrationDir)
	default:
		return fmt.Errorf("migrate: unknown command %q", command)
	}
}
