package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mlehotskylf-org/securegate/internal/config"
	httpx "github.com/mlehotskylf-org/securegate/internal/http"
	"github.com/mlehotskylf-org/securegate/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s event:fatal error:%v\n", time.Now().Format(time.RFC3339), err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	// Validation is fatal in every profile: a bad config must never serve.
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Profile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := httpx.NewDependencies(cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to wire dependencies: %w", err)
	}
	router := httpx.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Leaves room for a full upstream timeout plus streaming.
		WriteTimeout: cfg.ProxyTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.Any("config", cfg.Redacted()),
			zap.Int("known_hashes", deps.Registry.Len()),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
