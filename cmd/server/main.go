/*
main.go - Application entry point

PURPOSE:
  Starts the Monthly Consumption Ledger server or runs its schema migration.
  Handles configuration, dependency wiring, and graceful shutdown.

COMMANDS:
  serve    Migrate, then serve the HTTP API
  migrate  Create or update the SQLite schema and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (flags, config file, .env, MDM_* env)
  2. Build zap logger and prometheus registry
  3. Open SQLite store (auto-migrates)
  4. Pick the month locker: Redis when redis.addr is set, in-process otherwise
  5. Build consumption.Service, API handler and router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis client and database connection

EXAMPLES:
  # Run with file database
  ./server serve --db ./data/mdm.db

  # Run with in-memory database
  ./server serve --db :memory:

  # Several replicas sharing one lock space
  MDM_REDIS_ADDR=localhost:6379 ./server serve

SEE ALSO:
  - config/config.go: Keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/warp/meal-ledger/api"
	"github.com/warp/meal-ledger/config"
	"github.com/warp/meal-ledger/consumption"
	"github.com/warp/meal-ledger/generic"
	"github.com/warp/meal-ledger/observability"
	"github.com/warp/meal-ledger/store/redislock"
	"github.com/warp/meal-ledger/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	configFile string
	port       int
	dbPath     string
}

func newRootCmd() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "server",
		Short:         "Monthly consumption ledger and cost allocation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configFile, "config", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&f.dbPath, "db", "", "SQLite database path (overrides db.path)")
	root.PersistentFlags().IntVar(&f.port, "port", 0, "HTTP server port (overrides http.port)")
	root.AddCommand(newServeCmd(&f), newMigrateCmd(&f))
	return root
}

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func newMigrateCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			store, err := sqlite.New(cfg.DB.Path)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}

func loadConfig(f *flags) (config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return cfg, err
	}
	if f.dbPath != "" {
		cfg.DB.Path = f.dbPath
	}
	if f.port != 0 {
		cfg.HTTP.Port = f.port
	}
	return cfg, cfg.Validate()
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger, err := observability.NewLogger(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	var locker generic.Locker = generic.NewKeyedMutex()
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = redislock.New(rdb, redislock.WithTTL(cfg.Lock.TTL))
		logger.Info("using redis month locks", zap.String("addr", cfg.Redis.Addr))
	}

	svc := consumption.NewService(consumption.ServiceParam{
		Store:   store,
		Locker:  locker,
		Clock:   generic.SystemClock{},
		Log:     logger.Named("ledger"),
		Metrics: metrics,
	})
	handler := api.NewHandler(svc, logger.Named("api"))
	handler.Ping = store.Ping
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.Origins,
		Gatherer:       reg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("db", cfg.DB.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
