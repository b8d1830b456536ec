package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aqimebaby/aqialert/pkg/model"
)

// RunLockName is the lock taken by a monitoring run.
const RunLockName = "aqi-monitor"

var (
	// ErrAlertNotFound is returned when an update or lookup matches no alert.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrLockHeld is returned when another run currently owns the run lock.
	ErrLockHeld = errors.New("run lock held by another process")
)

// Storage defines the persistence layer for alerts, accounts and run history.
type Storage interface {
	// ListEligibleAlerts returns every alert whose account has a confirmed
	// address, joined with that address, ordered by alert id.
	ListEligibleAlerts(ctx context.Context) ([]model.AlertView, error)

	// SetAlertState atomically writes the hysteresis flag of a single alert.
	SetAlertState(ctx context.Context, id int64, state model.ThresholdState) error

	// CreateAccount inserts an account and fills in its id.
	CreateAccount(ctx context.Context, account *model.Account) error

	// CreateAlert inserts an alert and fills in its id.
	CreateAlert(ctx context.Context, alert *model.Alert) error

	// GetAlert retrieves an alert by id.
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)

	// ListAlerts returns all alerts regardless of account status.
	ListAlerts(ctx context.Context) ([]model.Alert, error)

	// RecordRun persists the summary of a completed run.
	RecordRun(ctx context.Context, run *model.RunRecord) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)

	// AcquireRunLock takes the exclusive run lock for owner. The returned
	// function releases it. ErrLockHeld is returned if another owner holds it.
	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (func(), error)

	// Close releases resources.
	Close() error
}

// Open creates a storage backend for the given driver name.
func Open(ctx context.Context, driver, path, dsn string) (Storage, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(path)
	case "postgres", "postgresql":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
