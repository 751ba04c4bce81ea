package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies every pending migration and returns the resulting
// schema version.
func RunMigrations(ctx context.Context, cfg Config) (int64, error) {
	slog.Info("Running database migrations...")

	conn, err := openMigrationDB(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := goose.UpContext(ctx, conn, migrationsDir); err != nil {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, conn)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	slog.Info("Database migrations completed successfully", "version", version)
	return version, nil
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(ctx context.Context, cfg Config) error {
	conn, err := openMigrationDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := goose.DownContext(ctx, conn, migrationsDir); err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	slog.Info("Rolled back latest migration")
	return nil
}

func openMigrationDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	conn, err := sql.Open("pgx", cfg.Url)
	if err != nil {
		return nil, err
	}
	// goose issues statements on whichever pooled connection is free, so the
	// search_path set below has to apply to every one of them.
	conn.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := ensureSchemaExists(ctx, conn, schema); err != nil {
		conn.Close()
		return nil, err
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func ensureSchemaExists(ctx context.Context, conn *sql.DB, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := conn.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	if _, err := conn.ExecContext(ctx, "SET search_path TO "+ident); err != nil {
		return fmt.Errorf("failed to set search_path: %w", err)
	}
	slog.Info("Schema is ready", "schema", schema)
	return nil
}
