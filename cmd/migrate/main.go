package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ensureLedger = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   text PRIMARY KEY,
	applied_at timestamptz NOT NULL DEFAULT now()
)`

// Applies every migrations/*.sql in lexical order, once. Applied files
// are remembered in schema_migrations so reruns are safe.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, ensureLedger); err != nil {
		logger.Error("failed to create migration ledger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		logger.Error("failed to list migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sort.Strings(files)
	for _, file := range files {
		name := filepath.Base(file)
		var applied bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, name).Scan(&applied)
		if err != nil {
			logger.Error("failed to check migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if applied {
			logger.Info("migration already applied", slog.String("file", name))
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			logger.Error("failed to read migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("failed to begin migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			logger.Error("failed to apply migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			logger.Error("failed to record migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit migration", slog.String("file", name), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("applied migration", slog.String("file", name))
	}
}
