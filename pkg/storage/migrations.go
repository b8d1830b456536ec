package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var sqliteMigrations = []string{
	// Migration 1: accounts and alerts
	`CREATE TABLE IF NOT EXISTS account (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		email           TEXT NOT NULL UNIQUE,
		confirmed_email BOOLEAN NOT NULL DEFAULT 0,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS alert (
		id                      INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id              INTEGER NOT NULL REFERENCES account(id) ON DELETE CASCADE,
		location_name           TEXT NOT NULL,
		latitude                REAL NOT NULL,
		longitude               REAL NOT NULL,
		alert_level             INTEGER NOT NULL CHECK(alert_level BETWEEN 1 AND 500),
		alert_active_last_check BOOLEAN NOT NULL DEFAULT 0,
		created_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alert_account ON alert(account_id);`,

	// Migration 2: run history and run lock
	`CREATE TABLE IF NOT EXISTS job_runs (
		id              TEXT PRIMARY KEY,
		started_at      DATETIME NOT NULL,
		finished_at     DATETIME NOT NULL,
		alerts_total    INTEGER NOT NULL DEFAULT 0,
		notified        INTEGER NOT NULL DEFAULT 0,
		fetch_failed    INTEGER NOT NULL DEFAULT 0,
		delivery_failed INTEGER NOT NULL DEFAULT 0,
		commit_failed   INTEGER NOT NULL DEFAULT 0,
		panicked        INTEGER NOT NULL DEFAULT 0,
		error           TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at);

	CREATE TABLE IF NOT EXISTS run_locks (
		name       TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS account (
		id              BIGSERIAL PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		confirmed_email BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS alert (
		id                      BIGSERIAL PRIMARY KEY,
		account_id              BIGINT NOT NULL REFERENCES account(id) ON DELETE CASCADE,
		location_name           TEXT NOT NULL,
		latitude                DOUBLE PRECISION NOT NULL,
		longitude               DOUBLE PRECISION NOT NULL,
		alert_level             INTEGER NOT NULL CHECK(alert_level BETWEEN 1 AND 500),
		alert_active_last_check BOOLEAN NOT NULL DEFAULT FALSE,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_alert_account ON alert(account_id);`,

	`CREATE TABLE IF NOT EXISTS job_runs (
		id              UUID PRIMARY KEY,
		started_at      TIMESTAMPTZ NOT NULL,
		finished_at     TIMESTAMPTZ NOT NULL,
		alerts_total    INTEGER NOT NULL DEFAULT 0,
		notified        INTEGER NOT NULL DEFAULT 0,
		fetch_failed    INTEGER NOT NULL DEFAULT 0,
		delivery_failed INTEGER NOT NULL DEFAULT 0,
		commit_failed   INTEGER NOT NULL DEFAULT 0,
		panicked        INTEGER NOT NULL DEFAULT 0,
		error           TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at);`,
}

// runMigrations applies pending SQLite schema migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(sqliteMigrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(sqliteMigrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}

// runPostgresMigrations applies pending Postgres schema migrations.
func runPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	if err := pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(postgresMigrations); i++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(ctx, postgresMigrations[i]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", i+1); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
