package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/aqimebaby/aqialert/pkg/storage"
)

func newTestDB(t *testing.T) *storage.SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAccount(t *testing.T, db storage.Storage, email string, confirmed bool) *model.Account {
	t.Helper()
	acct := &model.Account{Email: email, ConfirmedEmail: confirmed}
	require.NoError(t, db.CreateAccount(context.Background(), acct))
	return acct
}

func TestSQLite_CreateAlert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "a@example.com", true)

	alert := &model.Alert{
		AccountID:    acct.ID,
		LocationName: "Oakland",
		Latitude:     37.80,
		Longitude:    -122.27,
		AlertLevel:   100,
	}
	require.NoError(t, db.CreateAlert(ctx, alert))
	assert.NotZero(t, alert.ID)

	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, "Oakland", got.LocationName)
	assert.Equal(t, 100, got.AlertLevel)
	assert.False(t, got.AlertActiveLastCheck)
}

func TestSQLite_CreateAlert_InvalidLevel(t *testing.T) {
	db := newTestDB(t)
	acct := seedAccount(t, db, "a@example.com", true)

	err := db.CreateAlert(context.Background(), &model.Alert{AccountID: acct.ID, AlertLevel: 900})
	assert.Error(t, err)
}

func TestSQLite_ListEligibleAlerts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	confirmed := seedAccount(t, db, "confirmed@example.com", true)
	unconfirmed := seedAccount(t, db, "pending@example.com", false)

	alerts := []*model.Alert{
		{AccountID: confirmed.ID, LocationName: "Berkeley", Latitude: 37.87, Longitude: -122.27, AlertLevel: 50},
		{AccountID: unconfirmed.ID, LocationName: "Fresno", Latitude: 36.74, Longitude: -119.78, AlertLevel: 150},
		{AccountID: confirmed.ID, LocationName: "Sacramento", Latitude: 38.58, Longitude: -121.49, AlertLevel: 75, AlertActiveLastCheck: true},
	}
	for _, a := range alerts {
		require.NoError(t, db.CreateAlert(ctx, a))
	}

	views, err := db.ListEligibleAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "Berkeley", views[0].LocationName)
	assert.Equal(t, "confirmed@example.com", views[0].Email)
	assert.Equal(t, model.StateBelow, views[0].State)

	assert.Equal(t, "Sacramento", views[1].LocationName)
	assert.Equal(t, model.StateAbove, views[1].State)
	assert.Equal(t, 75, views[1].AlertLevel)
}

func TestSQLite_ListEligibleAlerts_Empty(t *testing.T) {
	db := newTestDB(t)
	views, err := db.ListEligibleAlerts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestSQLite_SetAlertState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "a@example.com", true)

	alert := &model.Alert{AccountID: acct.ID, LocationName: "Reno", Latitude: 39.53, Longitude: -119.81, AlertLevel: 100}
	require.NoError(t, db.CreateAlert(ctx, alert))

	require.NoError(t, db.SetAlertState(ctx, alert.ID, model.StateAbove))
	got, err := db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.AlertActiveLastCheck)

	require.NoError(t, db.SetAlertState(ctx, alert.ID, model.StateBelow))
	got, err = db.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, got.AlertActiveLastCheck)
}

func TestSQLite_SetAlertState_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.SetAlertState(context.Background(), 999, model.StateAbove)
	assert.True(t, errors.Is(err, storage.ErrAlertNotFound))
}

func TestSQLite_GetAlert_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAlert(context.Background(), 42)
	assert.True(t, errors.Is(err, storage.ErrAlertNotFound))
}

func TestSQLite_ListAlerts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "a@example.com", false)

	for _, name := range []string{"Davis", "Chico"} {
		require.NoError(t, db.CreateAlert(ctx, &model.Alert{AccountID: acct.ID, LocationName: name, AlertLevel: 80}))
	}

	all, err := db.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_Runs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		run := &model.RunRecord{
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + 10*time.Second),
			AlertsTotal: 10,
			Notified:    i,
			FetchFailed: 1,
		}
		require.NoError(t, db.RecordRun(ctx, run))
		assert.NotEmpty(t, run.ID)
	}

	runs, err := db.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Notified)
	assert.Equal(t, 1, runs[1].Notified)
	assert.Equal(t, 10, runs[0].AlertsTotal)
}

func TestSQLite_RunLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	release, err := db.AcquireRunLock(ctx, "run-a", time.Minute)
	require.NoError(t, err)

	_, err = db.AcquireRunLock(ctx, "run-b", time.Minute)
	assert.ErrorIs(t, err, storage.ErrLockHeld)

	release()

	release, err = db.AcquireRunLock(ctx, "run-b", time.Minute)
	require.NoError(t, err)
	release()
}

func TestSQLite_RunLock_ExpiredLeaseTakenOver(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.AcquireRunLock(ctx, "crashed-run", time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	release, err := db.AcquireRunLock(ctx, "next-run", time.Minute)
	require.NoError(t, err)
	release()
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), "mysql", "", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}

func TestOpen_SQLite(t *testing.T) {
	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "open.db"), "")
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
