package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aqimebaby/aqialert/internal/config"
	"github.com/aqimebaby/aqialert/pkg/aqi"
	"github.com/aqimebaby/aqialert/pkg/mailer"
	"github.com/aqimebaby/aqialert/pkg/metrics"
	"github.com/aqimebaby/aqialert/pkg/monitor"
	"github.com/aqimebaby/aqialert/pkg/notifier"
	"github.com/aqimebaby/aqialert/pkg/ratelimit"
	"github.com/aqimebaby/aqialert/pkg/reporting"
	"github.com/aqimebaby/aqialert/pkg/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aqialertctl",
	Short: "aqialert - air quality threshold alerts",
	Long: `aqialert checks the current AQI for every confirmed alert, emails the
subscriber when the reading crosses their threshold in either direction, and
remembers which side of the threshold each alert is on.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.aqialert/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config. When logging.file is
// set, output is also written to a rotated file; the returned func closes it.
func newLogger(cfg *config.Config) (*slog.Logger, func()) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.Logging.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotator)
		closeFn = func() { rotator.Close() }
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), closeFn
}

// initStorage creates a storage backend from config.
func initStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	return storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.DSN)
}

// initSender creates the email provider from config.
func initSender(cfg *config.Config, logger *slog.Logger) (mailer.Sender, error) {
	switch cfg.Email.Provider {
	case "sendgrid":
		return mailer.NewSendGrid(cfg.Email.SendGridAPIKey, cfg.Email.SendGridURL), nil
	case "smtp":
		s := cfg.Email.SMTP
		return mailer.NewSMTP(s.Host, s.Port, s.Username, s.Password), nil
	case "log":
		return mailer.NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// newPacer builds the feed limiter. A positive aqi.requests_per_second takes
// precedence over aqi.min_interval.
func newPacer(cfg *config.Config) (*ratelimit.Limiter, error) {
	if cfg.AQI.RequestsPerSecond > 0 {
		return ratelimit.NewPerSecond(cfg.AQI.RequestsPerSecond, cfg.AQI.PerMinute)
	}
	return ratelimit.New(cfg.AQI.MinInterval, cfg.AQI.PerMinute)
}

// initFetcher creates the paced AQI feed client.
func initFetcher(cfg *config.Config, logger *slog.Logger) (*aqi.Client, error) {
	limiter, err := newPacer(cfg)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	logger.Debug("feed pacing", "interval", limiter.Interval(), "per_minute", cfg.AQI.PerMinute)
	return aqi.NewClient(cfg.AQI.Token, limiter, cfg.AQI.Timeout, aqi.WithBaseURL(cfg.AQI.BaseURL)), nil
}

// initReporters creates run report sinks from config.
func initReporters(cfg *config.Config) []reporting.Reporter {
	var reporters []reporting.Reporter

	if cfg.Reporting.Slack.Enabled && cfg.Reporting.Slack.WebhookURL != "" {
		reporters = append(reporters, reporting.NewSlackReporter(
			cfg.Reporting.Slack.WebhookURL,
			cfg.Reporting.Slack.Channel,
			cfg.Reporting.Slack.OnlyFailures,
		))
	}

	if cfg.Reporting.Webhook.Enabled && cfg.Reporting.Webhook.URL != "" {
		reporters = append(reporters, reporting.NewWebhookReporter(
			cfg.Reporting.Webhook.URL,
			cfg.Reporting.Webhook.Secret,
		))
	}

	return reporters
}

// initJob creates a fully wired run controller. m may be nil.
func initJob(cfg *config.Config, store storage.Storage, logger *slog.Logger, m *metrics.Metrics) (*monitor.Job, error) {
	fetcher, err := initFetcher(cfg, logger)
	if err != nil {
		return nil, err
	}

	sender, err := initSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	n := notifier.New(sender, store, cfg.Email.From, logger)
	return monitor.NewJob(store, fetcher, n, logger, monitor.Options{
		LockTTL:        cfg.Job.LockTTL,
		Reporters:      initReporters(cfg),
		Metrics:        m,
		PushGatewayURL: cfg.Metrics.PushgatewayURL,
		MetricsJobName: cfg.Metrics.JobName,
	}), nil
}

// RunJob performs one monitoring run with configuration from cfgFile.
// A run skipped because another run holds the lock is not an error.
func RunJob(ctx context.Context, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	job, err := initJob(cfg, store, logger, nil)
	if err != nil {
		return err
	}

	if _, err := job.Run(ctx); err != nil {
		if errors.Is(err, monitor.ErrRunInProgress) {
			return nil
		}
		return err
	}
	return nil
}
