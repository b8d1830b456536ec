package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) ListEligibleAlerts(ctx context.Context) ([]model.AlertView, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alert.id, alert.account_id, alert.location_name, alert.latitude, alert.longitude,
		        alert.alert_level, alert.alert_active_last_check, account.email
		 FROM alert
		 INNER JOIN account ON alert.account_id = account.id
		 WHERE account.confirmed_email = 1
		 ORDER BY alert.id`)
	if err != nil {
		return nil, fmt.Errorf("query eligible alerts: %w", err)
	}
	defer rows.Close()

	var views []model.AlertView
	for rows.Next() {
		var v model.AlertView
		var active bool
		if err := rows.Scan(&v.ID, &v.AccountID, &v.LocationName, &v.Latitude, &v.Longitude,
			&v.AlertLevel, &active, &v.Email); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		v.State = model.StateFromActive(active)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (s *SQLite) SetAlertState(ctx context.Context, id int64, state model.ThresholdState) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alert SET alert_active_last_check = ? WHERE id = ?`, state.Active(), id)
	if err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrAlertNotFound)
	}
	return nil
}

func (s *SQLite) CreateAccount(ctx context.Context, account *model.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO account (email, confirmed_email, created_at) VALUES (?, ?, ?)`,
		account.Email, account.ConfirmedEmail, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	account.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("account id: %w", err)
	}
	return nil
}

func (s *SQLite) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO alert (account_id, location_name, latitude, longitude, alert_level, alert_active_last_check, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.AccountID, alert.LocationName, alert.Latitude, alert.Longitude,
		alert.AlertLevel, alert.AlertActiveLastCheck, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	alert.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("alert id: %w", err)
	}
	return nil
}

func (s *SQLite) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	var a model.Alert
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, location_name, latitude, longitude, alert_level, alert_active_last_check, created_at
		 FROM alert WHERE id = ?`, id,
	).Scan(&a.ID, &a.AccountID, &a.LocationName, &a.Latitude, &a.Longitude,
		&a.AlertLevel, &a.AlertActiveLastCheck, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

func (s *SQLite) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, location_name, latitude, longitude, alert_level, alert_active_last_check, created_at
		 FROM alert ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.AccountID, &a.LocationName, &a.Latitude, &a.Longitude,
			&a.AlertLevel, &a.AlertActiveLastCheck, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLite) RecordRun(ctx context.Context, run *model.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, started_at, finished_at, alerts_total, notified, fetch_failed,
		                       delivery_failed, commit_failed, panicked, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.AlertsTotal, run.Notified,
		run.FetchFailed, run.DeliveryFailed, run.CommitFailed, run.Panicked, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, alerts_total, notified, fetch_failed,
		        delivery_failed, commit_failed, panicked, error
		 FROM job_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.AlertsTotal, &r.Notified,
			&r.FetchFailed, &r.DeliveryFailed, &r.CommitFailed, &r.Panicked, &r.Error); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AcquireRunLock claims the run_locks row. An expired lease left behind by a
// crashed run is taken over.
func (s *SQLite) AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (func(), error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO run_locks (name, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   owner = excluded.owner,
		   expires_at = excluded.expires_at
		 WHERE run_locks.expires_at < ?`,
		RunLockName, owner, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrLockHeld
	}

	release := func() {
		_, _ = s.db.ExecContext(context.Background(),
			`DELETE FROM run_locks WHERE name = ? AND owner = ?`, RunLockName, owner)
	}
	return release, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
