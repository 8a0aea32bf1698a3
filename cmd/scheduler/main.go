package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jashmhtaaa/theatre-scheduler/internal/application"
	"github.com/jashmhtaaa/theatre-scheduler/internal/checklist"
	"github.com/jashmhtaaa/theatre-scheduler/internal/config"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence/memory"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence/postgres"
	"github.com/jashmhtaaa/theatre-scheduler/internal/persistence/sqlite"
	"github.com/jashmhtaaa/theatre-scheduler/internal/scheduler"
)

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "scheduler",
		Short:         "Operating theatre resource booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the booking API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(envFile, out)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(envFile, out)
			if err != nil {
				return err
			}
			applied, err := runMigrations(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("failed to apply migrations", "error", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	})

	return root
}

// setup loads the dotenv file, the configuration and the process logger.
func setup(envFile string, out io.Writer) (config.Config, *slog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(out, nil)).Error("failed to load configuration", "error", err)
		return config.Config{}, nil, err
	}
	return cfg, newLogger(cfg, out), nil
}

func newLogger(cfg config.Config, out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// store is everything the services need from a backend.
type store interface {
	application.ResourceRepository
	scheduler.BookingStore
	checklist.Store
	Ping(ctx context.Context) error
	Close() error
}

// openStore connects the configured backend. SQLite and PostgreSQL apply
// pending migrations on open.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		st, err := sqlite.Open(ctx, sqlite.DefaultConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorePostgres:
		st, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return memory.New(), nil
	}
}

func runMigrations(ctx context.Context, cfg config.Config, logger *slog.Logger) (int, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		pool, err := sqlite.NewConnectionPool(sqlite.DefaultConfig(cfg.SQLiteDSN))
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		return pool.Migrate(ctx, logger)
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return 0, err
		}
		defer pool.Close()
		return postgres.Migrate(ctx, pool, logger)
	default:
		logger.Info("memory store has no schema to migrate")
		return 0, nil
	}
}

func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "store", cfg.Store, "error", err)
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	a, err := buildApp(ctx, cfg, logger, st, time.Now)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		return err
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening", "addr", server.Addr, "store", cfg.Store)
	serveErr := server.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	if serveErr != nil {
		logger.Error("server encountered error", "error", serveErr)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.close(closeCtx)
	return serveErr
}
