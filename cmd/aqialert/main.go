package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aqimebaby/aqialert/internal/cli"
)

// aqialert performs a single monitoring run and exits. It is meant to be
// started by cron or a scheduler. The exit code is non-zero only when the run
// could not proceed at all; per-alert failures are logged and reported.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.RunJob(ctx, os.Getenv("AQIALERT_CONFIG"))
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
