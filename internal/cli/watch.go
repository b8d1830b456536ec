package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqimebaby/aqialert/internal/server"
	"github.com/aqimebaby/aqialert/pkg/metrics"
	"github.com/aqimebaby/aqialert/pkg/monitor"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the job on a fixed interval and serve health and metrics",
	Long: `Run the monitoring job repeatedly. Runs never overlap: each starts only
after the previous one has finished, and the run lock keeps separate
processes apart. /healthz, /metrics and /api/v1/runs are served meanwhile.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", 0, "Time between runs (default: job.interval)")
	watchCmd.Flags().String("listen", "", "HTTP listen address (default: metrics.listen, loopback only)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = cfg.Job.Interval
	}
	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = cfg.Metrics.Listen
	}

	logger, closeLog := newLogger(cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	job, err := initJob(cfg, store, logger, m)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           server.NewServer(store, m.Handler(), logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if !isLoopback(listen) {
		logger.Warn("watch server reachable beyond loopback; /api/v1/alerts lists subscriber emails without authentication",
			"listen", listen)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("watch started", "listen", listen, "interval", interval.String())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, job, logger)
	for {
		select {
		case err := <-errCh:
			return fmt.Errorf("http server: %w", err)
		case <-ticker.C:
			runOnce(ctx, job, logger)
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}

// isLoopback reports whether addr binds only the local host. An empty host
// such as ":9108" binds every interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// runOnce runs the job and logs instead of returning errors, so a bad run
// does not stop the schedule.
func runOnce(ctx context.Context, job *monitor.Job, logger *slog.Logger) {
	_, err := job.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrRunInProgress):
		logger.Info("run skipped", "reason", err)
	case errors.Is(err, monitor.ErrInterrupted):
		logger.Warn("run interrupted", "error", err)
	default:
		logger.Error("run failed", "error", err)
	}
}
