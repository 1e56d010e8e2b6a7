package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every pending migration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return runGoose(ctx, pool, func(ctx context.Context, sqlDB *sql.DB) error {
		return goose.UpContext(ctx, sqlDB, "migrations")
	})
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, pool *pgxpool.Pool) error {
	return runGoose(ctx, pool, func(ctx context.Context, sqlDB *sql.DB) error {
		return goose.DownContext(ctx, sqlDB, "migrations")
	})
}

// MigrationStatus logs the state of every migration.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool) error {
	return runGoose(ctx, pool, func(ctx context.Context, sqlDB *sql.DB) error {
		return goose.StatusContext(ctx, sqlDB, "migrations")
	})
}

func runGoose(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, *sql.DB) error) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	if err := fn(ctx, sqlDB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
