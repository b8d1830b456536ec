// Package monitor runs one pass over every eligible alert: fetch the current
// AQI, evaluate the threshold crossing, and notify.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/aqimebaby/aqialert/pkg/mailer"
	"github.com/aqimebaby/aqialert/pkg/metrics"
	"github.com/aqimebaby/aqialert/pkg/model"
	"github.com/aqimebaby/aqialert/pkg/notifier"
	"github.com/aqimebaby/aqialert/pkg/reporting"
	"github.com/aqimebaby/aqialert/pkg/storage"
	"github.com/aqimebaby/aqialert/pkg/threshold"
)

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 30 * time.Minute

var (
	// ErrSourceUnavailable means the alert list could not be loaded. It is the
	// only per-run failure that makes a run fatal.
	ErrSourceUnavailable = errors.New("alert source unavailable")

	// ErrRunInProgress means another run holds the run lock.
	ErrRunInProgress = errors.New("another run is in progress")

	// ErrInterrupted means the context was cancelled before every alert was visited.
	ErrInterrupted = errors.New("run interrupted")
)

// Store is the persistence the run controller needs.
type Store interface {
	ListEligibleAlerts(ctx context.Context) ([]model.AlertView, error)
	RecordRun(ctx context.Context, run *model.RunRecord) error
	AcquireRunLock(ctx context.Context, owner string, ttl time.Duration) (func(), error)
}

// Fetcher returns the current reading for a location. Failures are carried
// in the Reading.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lng float64) model.Reading
}

// Notifier delivers a crossing and commits the new state.
type Notifier interface {
	Notify(ctx context.Context, alert model.AlertView, r model.Reading, d threshold.Decision) (mailer.Delivery, error)
}

// Options tunes a Job.
type Options struct {
	LockTTL        time.Duration
	Reporters      []reporting.Reporter
	Metrics        *metrics.Metrics
	PushGatewayURL string
	MetricsJobName string
}

// Job is the run controller.
type Job struct {
	store     Store
	fetcher   Fetcher
	notifier  Notifier
	reporters []reporting.Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewJob creates a run controller.
func NewJob(store Store, fetcher Fetcher, n Notifier, logger *slog.Logger, opts Options) *Job {
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.MetricsJobName == "" {
		opts.MetricsJobName = "aqialert"
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Job{
		store:     store,
		fetcher:   fetcher,
		notifier:  n,
		reporters: opts.Reporters,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Metrics returns the collectors the job records into.
func (j *Job) Metrics() *metrics.Metrics { return j.metrics }

// Run processes every eligible alert once. Only a lock conflict, an
// unavailable alert source, or cancellation yield an error; per-alert
// failures are reported in the returned Report.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	runID := uuid.New().String()
	logger := j.logger.With("run_id", runID)
	report := &Report{Run: model.RunRecord{ID: runID, StartedAt: j.now()}}

	release, err := j.store.AcquireRunLock(ctx, runID, j.opts.LockTTL)
	if err != nil {
		if errors.Is(err, storage.ErrLockHeld) {
			logger.Warn("skipping run: lock held by another run")
			j.metrics.RunsTotal.WithLabelValues(metrics.ResultLocked).Inc()
			j.pushMetrics(ctx, logger)
			return nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
		}
		// a store that cannot take the lock cannot list alerts either
		report.Run.Error = err.Error()
		j.finish(ctx, logger, report, metrics.ResultFatal)
		return report, fmt.Errorf("%w: acquire run lock: %w", ErrSourceUnavailable, err)
	}
	defer release()

	alerts, err := j.store.ListEligibleAlerts(ctx)
	if err != nil {
		logger.Error("load alerts", "error", err)
		report.Run.Error = fmt.Sprintf("load alerts: %v", err)
		j.finish(ctx, logger, report, metrics.ResultFatal)
		return report, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	logger.Info("run started", "alerts", len(alerts))

	for _, alert := range alerts {
		if ctx.Err() != nil {
			break
		}
		report.Attempts = append(report.Attempts, j.attempt(ctx, logger, alert))
	}

	if err := ctx.Err(); err != nil {
		report.Run.Error = fmt.Sprintf("interrupted after %d of %d alerts: %v", len(report.Attempts), len(alerts), err)
		j.finish(ctx, logger, report, metrics.ResultFatal)
		return report, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	j.finish(ctx, logger, report, metrics.ResultOK)
	return report, nil
}

// attempt processes one alert. A panic is confined to this alert.
func (j *Job) attempt(ctx context.Context, logger *slog.Logger, alert model.AlertView) (at Attempt) {
	logger = logger.With("alert_id", alert.ID)
	at = Attempt{AlertID: alert.ID, Location: alert.LocationName, Decision: threshold.NoAction}

	defer func() {
		if r := recover(); r != nil {
			at.Outcome = OutcomePanicked
			at.Err = fmt.Errorf("panic: %v", r)
			j.metrics.PanicsRecovered.WithLabelValues("attempt").Inc()
			logger.Error("panic while processing alert", "panic", r, "stack", string(debug.Stack()))
		}
		j.metrics.AttemptsTotal.WithLabelValues(string(at.Outcome)).Inc()
	}()

	start := time.Now()
	reading := j.fetcher.Fetch(ctx, alert.Latitude, alert.Longitude)
	j.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	at.Reading = reading

	if !reading.OK {
		at.Outcome = OutcomeFetchFailed
		at.Err = reading.Err
		logger.Warn("aqi fetch failed", "status", reading.Status, "error", reading.Err)
		return at
	}

	at.Decision = threshold.Evaluate(reading, alert.AlertLevel, alert.State)
	if !at.Decision.IsCrossing() {
		at.Outcome = OutcomeNoAction
		logger.Debug("no crossing",
			"aqi", reading.Value,
			"level", alert.AlertLevel,
			"state", alert.State.String(),
		)
		return at
	}

	logger.Info("threshold crossed",
		"decision", at.Decision.String(),
		"aqi", reading.Value,
		"level", alert.AlertLevel,
	)

	_, err := j.notifier.Notify(ctx, alert, reading, at.Decision)
	switch {
	case err == nil:
		at.Outcome = OutcomeNotified
		j.metrics.NotificationsSent.WithLabelValues(at.Decision.String()).Inc()
	case errors.Is(err, notifier.ErrCommitAfterDelivery):
		at.Outcome = OutcomeCommitFailed
		at.Err = err
		j.metrics.NotificationsSent.WithLabelValues(at.Decision.String()).Inc()
	default:
		at.Outcome = OutcomeDeliveryFailed
		at.Err = err
		logger.Error("notification failed; will retry next run", "error", err)
	}
	return at
}

// finish tallies the report and hands it to the run history, metrics and
// reporting sinks. None of these can fail the run.
func (j *Job) finish(ctx context.Context, logger *slog.Logger, report *Report, result string) {
	ctx = context.WithoutCancel(ctx)

	report.tally()
	report.Run.FinishedAt = j.now()
	run := report.Run

	if err := j.store.RecordRun(ctx, &report.Run); err != nil {
		logger.Error("record run", "error", err)
	}

	logger.Info("run finished",
		"result", result,
		"alerts", run.AlertsTotal,
		"notified", run.Notified,
		"fetch_failed", run.FetchFailed,
		"delivery_failed", run.DeliveryFailed,
		"commit_failed", run.CommitFailed,
		"panicked", run.Panicked,
		"duration", run.FinishedAt.Sub(run.StartedAt).String(),
	)

	j.metrics.ObserveRun(result, run.AlertsTotal, run.StartedAt, run.FinishedAt)
	j.pushMetrics(ctx, logger)

	summary := report.Summary()
	for _, r := range j.reporters {
		if err := r.Send(ctx, summary); err != nil {
			logger.Error("send run report failed", "reporter", r.Name(), "error", err)
		}
	}
}

func (j *Job) pushMetrics(ctx context.Context, logger *slog.Logger) {
	if j.opts.PushGatewayURL == "" {
		return
	}
	if err := j.metrics.Push(context.WithoutCancel(ctx), j.opts.PushGatewayURL, j.opts.MetricsJobName); err != nil {
		logger.Warn("push metrics", "error", err)
	}
}
