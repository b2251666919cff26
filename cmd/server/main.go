/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server, and hosts the operator
  commands that share its wiring.

COMMANDS:
  leave-engine serve              Run the HTTP API and the allocation scheduler
  leave-engine seed SCENARIO      Reset the store and load a demo scenario
  leave-engine allocate [--year]  Run bulk allocation once
  leave-engine token USER_ID      Print a bearer token for a directory member

STARTUP SEQUENCE (serve):
  1. Load configuration (.env, TOML file, environment)
  2. Build the zap logger
  3. Open the store for the configured driver
  4. Load the leave type catalog and directory
  5. Connect to Redis for idempotency (optional)
  6. Configure HTTP router, start scheduler and server
  7. Graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler (waits for a running allocation)
  4. Close the store and Redis

ENVIRONMENT:
  See config/config.go for every variable. The common ones:
    LEAVE_DB_DRIVER=sqlite|postgres|memory
    LEAVE_JWT_SECRET=...
    REDIS_ADDR=localhost:6379

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/: Storage backends
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logging"
	"github.com/warp/leave-engine/metrics"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:           "leave-engine",
	Short:         "Leave request lifecycle and balance ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds everything the commands share.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   leave.TxStore
	metrics *metrics.Metrics
	service *leave.Service
	handler *api.Handler
	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.loadCatalog(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.service = leave.NewService(a.store,
		leave.WithLogger(logger),
		leave.WithMetrics(a.metrics),
		leave.WithMaxRetries(cfg.MaxRetries),
	)
	a.handler = api.NewHandler(a.service, a.store, logger)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.DBDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(a.cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s)
	case config.DriverPostgres:
		s, err := postgres.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s)
	case config.DriverMemory:
		a.store = memory.New()
	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.DBDriver)
	}
	a.logger.Info("store opened", zap.String("driver", a.cfg.DBDriver))
	return nil
}

func (a *app) loadCatalog(ctx context.Context) error {
	cat := factory.Default()
	if a.cfg.CatalogPath != "" {
		loaded, err := factory.LoadFile(a.cfg.CatalogPath)
		if err != nil {
			return err
		}
		cat = loaded
	}
	if err := cat.Apply(ctx, a.store); err != nil {
		return fmt.Errorf("apply catalog: %w", err)
	}
	a.logger.Info("catalog loaded",
		zap.Int("leave_types", len(cat.LeaveTypes)),
		zap.Int("members", len(cat.Members)),
	)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// =============================================================================
// SERVE
// =============================================================================

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	routerCfg := api.RouterConfig{
		JWTSecret:       a.cfg.JWTSecret,
		AllowedOrigins:  a.cfg.AllowedOrigins,
		IdempotencyTTL:  a.cfg.IdempotencyTTL,
		Metrics:         a.metrics,
		EnableScenarios: a.cfg.EnableDemo,
		Idempotency:     api.NewMemoryCache(),
	}
	if a.cfg.RedisAddr != "" {
		rdb, err := api.OpenRedis(a.cfg.RedisAddr, 0)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, closerFunc(rdb.Close))
		routerCfg.Idempotency = api.NewRedisCache(rdb)
		a.logger.Info("idempotency cache", zap.String("backend", "redis"), zap.String("addr", a.cfg.RedisAddr))
	}

	scheduler, err := api.NewAllocationScheduler(a.service, a.cfg.AllocationCron, a.logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      api.NewRouter(a.handler, routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", zap.String("addr", a.cfg.Addr), zap.String("env", a.cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
