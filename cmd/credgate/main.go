// Command credgate runs a reference HTTP server that authenticates every
// request with API keys or signed requests and reports the resolved
// identity at /v1/whoami.
//
// Configuration is read from a YAML file (--config, CREDGATE_CONFIG,
// ./config.yaml or /etc/credgate/config.yaml) with CREDGATE_* environment
// overrides. See pkg/config for the full set of keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rhuss/credgate/pkg/config"
	"github.com/rhuss/credgate/pkg/debug"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	flagSet := pflag.NewFlagSet("credgate", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, path, err := config.LoadWithPath(configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)
	if path == "" {
		slog.Info("no config file found, using defaults and environment")
	}
	if cats := debug.Categories(); len(cats) > 0 {
		slog.Info("debug logging enabled", "categories", cats)
	}

	// Graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Auth.Watch && path != "" {
		w := config.NewWatcher(path, a.applyReload, config.WatcherOptions{Logger: slog.Default()})
		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("config watcher exited", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"port", cfg.Server.Port,
			"storage", cfg.Storage.Type,
			"static_keys", a.registry.Len(),
			"headers", a.resolver.Headers(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// readyTimeout bounds the store health check behind /readyz.
const readyTimeout = 2 * time.Second
