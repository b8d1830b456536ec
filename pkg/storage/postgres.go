package storage

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements the Storage interface on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at dsn and applies migrations.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty connection string")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) ListEligibleAlerts(ctx context.Context) ([]model.AlertView, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT alert.id, alert.account_id, alert.location_name, alert.latitude, alert.longitude,
		        alert.alert_level, alert.alert_active_last_check, account.email
		 FROM alert
		 INNER JOIN account ON alert.account_id = account.id
		 WHERE account.confirmed_email = TRUE
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

func (p *Postgres) SetAlertState(ctx context.Context, id int64, state model.ThresholdState) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE alert SET alert_active_last_check = $1 WHERE id = $2`, state.Active(), id)
	if err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d: %w", id, ErrAlertNotFound)
	}
	return nil
}

func (p *Postgres) CreateAccount(ctx context.Context, account *model.Account) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO account (email, confirmed_email) VALUES ($1, $2) RETURNING id, created_at`,
		account.Email, account.ConfirmedEmail,
	).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (p *Postgres) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO alert (account_id, location_name, latitude, longitude, alert_level, alert_active_last_check)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`,
		alert.AccountID, alert.LocationName, alert.Latitude, alert.Longitude,
		alert.AlertLevel, alert.AlertActiveLastCheck,
	).Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (p *Postgres) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	var a model.Alert
	err := p.pool.QueryRow(ctx,
		`SELECT id, account_id, location_name, latitude, longitude, alert_level, alert_active_last_check, created_at
		 FROM alert WHERE id = $1`, id,
	).Scan(&a.ID, &a.AccountID, &a.LocationName, &a.Latitude, &a.Longitude,
		&a.AlertLevel, &a.AlertActiveLastCheck, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

func (p *Postgres) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	rows, err := p.pool.Query(ctx,
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

func (p *Postgres) RecordRun(ctx context.Context, run *model.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO job_runs (id, started_at, finished_at, alerts_total, notified, fetch_failed,
		                       delivery_failed, commit_failed, panicked, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.StartedAt, run.FinishedAt, run.AlertsTotal, run.Notified,
		run.FetchFailed, run.DeliveryFailed, run.CommitFailed, run.Panicked, run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, started_at, finished_at, alerts_total, notified, fetch_failed,
		        delivery_failed, commit_failed, panicked, error
		 FROM job_runs ORDER BY started_at DESC LIMIT $1`, limit)
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

// AcquireRunLock takes a session-level advisory lock on a dedicated
// connection. The lock dies with the connection, so ttl is not needed.
func (p *Postgres) AcquireRunLock(ctx context.Context, _ string, _ time.Duration) (func(), error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	key := advisoryKey(RunLockName)
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, ErrLockHeld
	}

	release := func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return release, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func advisoryKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}
