package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mattjoyce/tether/internal/api"
	"github.com/mattjoyce/tether/internal/auth"
	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/config"
	"github.com/mattjoyce/tether/internal/events"
	"github.com/mattjoyce/tether/internal/journal"
	"github.com/mattjoyce/tether/internal/locate"
	"github.com/mattjoyce/tether/internal/lock"
	"github.com/mattjoyce/tether/internal/log"
	"github.com/mattjoyce/tether/internal/storage"
	"github.com/mattjoyce/tether/internal/supervisor"
)

// pruneInterval spaces journal retention passes.
const pruneInterval = time.Hour

func runStart(args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("tether starting", "version", version, "config", cfg.SourcePath)

	lockPath := cfg.ResolvedLockPath()
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	workerPath, err := locate.Resolve(locate.Options{
		Path:     cfg.Worker.Path,
		Dir:      cfg.Worker.Dir,
		Checksum: cfg.Worker.Checksum,
	})
	if err != nil {
		logger.Error("failed to locate worker", "error", err)
		return 1
	}
	logger.Info("worker located", "path", workerPath, "pinned", cfg.Worker.Checksum != "")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	jrnl := journal.New(db)
	// Closed before db so queued rows are flushed.
	defer jrnl.Close()
	hub := events.NewHub(events.DefaultCapacity)

	b := newBridge(cfg, workerPath, bridge.WithObserver(jrnl), bridge.WithObserver(hub))

	if err := b.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		return 1
	}
	if h := b.Status(); h.OK() {
		logger.Info("worker connected", "pid", b.WorkerPID(), "message", h.Message)
	} else {
		// The host keeps serving so status and history stay reachable.
		logger.Warn("worker handshake failed", "message", h.Message)
	}

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		srv := api.New(api.Config{
			Listen: cfg.API.Listen,
			Tokens: apiTokens(cfg),
		}, b, jrnl, hub, log.WithComponent("api"))
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.State.Retention > 0 {
		go pruneLoop(ctx, jrnl, cfg.State.Retention)
	}

	logger.Info("tether running (press Ctrl+C to stop)")

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Worker.GracePeriod+5*time.Second)
	defer stopCancel()
	if err := b.Stop(stopCtx); err != nil {
		logger.Warn("worker stop failed", "error", err)
	}

	logger.Info("tether stopped")
	return code
}

// newBridge maps the worker section of cfg onto a bridge.
func newBridge(cfg *config.Config, workerPath string, opts ...bridge.Option) *bridge.Bridge {
	return bridge.New(bridge.Config{
		Worker: supervisor.Config{
			Path:        workerPath,
			Args:        cfg.Worker.Args,
			Env:         workerEnv(cfg.Worker.Env),
			GracePeriod: cfg.Worker.GracePeriod,
		},
		RequestTimeout:   cfg.Worker.RequestTimeout,
		HandshakeTimeout: cfg.Worker.HandshakeTimeout,
	}, opts...)
}

// workerEnv flattens the env map into KEY=VALUE pairs in a stable order.
func workerEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func apiTokens(cfg *config.Config) []auth.TokenConfig {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	return tokens
}

func pruneLoop(ctx context.Context, j *journal.Journal, retention time.Duration) {
	logger := log.WithComponent("journal")
	prune := func() {
		n, err := j.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("journal pruned", "rows", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
