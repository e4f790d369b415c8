package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"
)

//go:embed scripts/*.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped creates the schema once. The version row is written by
// the script itself so a half-applied bootstrap is retried on next start.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, d dialect) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if _, err := db.ExecContext(ctxBoot, `CREATE TABLE IF NOT EXISTS papertrail_meta (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("meta table create failed: %w", err)
	}

	var hasVersion bool
	q := d.rebind(`SELECT EXISTS (SELECT 1 FROM papertrail_meta WHERE version = ?)`)
	if err := db.QueryRowContext(ctxBoot, q, schemaVersion).Scan(&hasVersion); err != nil {
		return fmt.Errorf("meta version check failed: %w", err)
	}
	if hasVersion {
		return nil
	}
	return runBootstrap(ctxBoot, db, d)
}

func runBootstrap(ctx context.Context, db *sql.DB, d dialect) error {
	name := fmt.Sprintf("scripts/%s.sql", d)
	sqlBytes, err := bootstrapFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
