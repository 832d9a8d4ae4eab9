// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"libracirc/internal/config"
	"libracirc/internal/store"
	"libracirc/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App owns the process wide resources of one binary. Everything it opens is released by Close.
type App struct {
	Config config.Config
	Logger *slog.Logger
	Store  *store.Store

	shutdownTelemetry telemetry.ShutdownFunc
}

// New builds the logger, installs tracing and metrics and opens the store, in that order.
func New(ctx context.Context, cfg config.Config, logOutput io.Writer) (*App, error) {
	logger := telemetry.NewLogger(logOutput, cfg.LogFormat, cfg.LogLevel).With("service", cfg.ServiceName)

	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.OTLPMetricsEndpoint)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Config{
		Driver:      store.Driver(cfg.DBDriver),
		DSN:         cfg.DatabaseURL,
		MaxAttempts: cfg.TxMaxAttempts,
	}, store.WithLogger(logger.With("component", "store")))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger.Info("store opened", "driver", cfg.DBDriver)
	return &App{Config: cfg, Logger: logger, Store: st, shutdownTelemetry: shutdown}, nil
}

// Close closes the store and flushes pending spans and metrics.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(a.Store.Close(), a.shutdownTelemetry(ctx))
}

// Serve runs an HTTP server on the configured port until ctx is done, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context, handler http.Handler) error {
	return Serve(ctx, a.Logger, a.Config.Port, handler)
}

// Serve runs an HTTP server on port until ctx is done, then shuts it down gracefully. Requests keep the values
// of ctx but not its cancellation, so in-flight requests drain during shutdown.
func Serve(ctx context.Context, logger *slog.Logger, port string, handler http.Handler) error {
	base := context.WithoutCancel(ctx)
	srv := &http.Server{
		Addr:              net.JoinHostPort("", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", port)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("server shut down")
	return nil
}
