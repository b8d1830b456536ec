package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Run results used as the "result" label of aqialert_runs_total.
const (
	ResultOK     = "ok"
	ResultFatal  = "fatal"
	ResultLocked = "locked"
)

// Metrics holds the job's collectors on a dedicated registry so the batch
// job can push them and the watch server can expose them.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	LastRunTimestamp  prometheus.Gauge
	AlertsInRun       prometheus.Gauge
	AttemptsTotal     *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	PanicsRecovered   *prometheus.CounterVec
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Runs
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqialert_runs_total",
				Help: "Total number of monitoring runs by result",
			},
			[]string{"result"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aqialert_run_duration_seconds",
				Help:    "Wall time of a monitoring run",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "aqialert_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
		),
		AlertsInRun: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "aqialert_alerts_in_last_run",
				Help: "Number of eligible alerts loaded by the last run",
			},
		),

		// Per-alert attempts
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqialert_attempts_total",
				Help: "Per-alert attempts by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqialert_notifications_sent_total",
				Help: "Emails accepted by the provider, by crossing direction",
			},
			[]string{"decision"},
		),
		FetchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aqialert_fetch_duration_seconds",
				Help:    "AQI feed request latency including pacing",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		// Panic recovery
		PanicsRecovered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aqialert_panics_recovered_total",
				Help: "Total number of panics recovered",
			},
			[]string{"component"},
		),
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRun records the end of a run.
func (m *Metrics) ObserveRun(result string, alerts int, started, finished time.Time) {
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(finished.Sub(started).Seconds())
	m.LastRunTimestamp.Set(float64(finished.Unix()))
	m.AlertsInRun.Set(float64(alerts))
}

// Push replaces this job's metric group on a Prometheus Pushgateway.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
