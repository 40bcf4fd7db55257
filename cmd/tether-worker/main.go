// Command tether-worker is the reference worker spawned by tether. It speaks
// line-delimited JSON on stdin/stdout and logs to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/tether/internal/log"
	"github.com/mattjoyce/tether/internal/worker"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("tether-worker", pflag.ContinueOnError)
	logLevel := fs.String("log-level", envOr("TETHER_WORKER_LOG_LEVEL", "INFO"), "Log level (DEBUG, INFO, WARN, ERROR)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("tether-worker %s\n", version)
		return 0
	}

	log.Setup(*logLevel)
	logger := log.WithComponent("tether-worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker ready", "pid", os.Getpid())
	if err := worker.Serve(ctx, worker.NewHandler(), os.Stdin, os.Stdout, logger); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
		return 1
	}
	logger.Info("worker exiting")
	return 0
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
