package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kiranshivaraju/callcoach/internal/cache"
	"github.com/kiranshivaraju/callcoach/internal/config"
	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// env carries the process dependencies each command opens lazily, so tests can swap them.
type env struct {
	v      *viper.Viper
	out    io.Writer
	logger *slog.Logger

	openStore  func(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error)
	openNotify func(redisURL string) (notifier, func(), error)
}

// notifier publishes a queue wake so running worker pools pick up requeued jobs immediately.
type notifier interface {
	Publish(ctx context.Context, channel string, payload string) error
}

func defaultEnv() *env {
	return &env{
		v:         viper.New(),
		out:       os.Stdout,
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		openStore: store.Open,
		openNotify: func(redisURL string) (notifier, func(), error) {
			rc, err := cache.NewRedisCache(redisURL)
			if err != nil {
				return nil, nil, err
			}
			return rc, func() { _ = rc.Close() }, nil
		},
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Operate the callcoach analysis queue",
		Long:          `queuectl runs the queue maintenance passes on demand, lists jobs and issues API keys.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.bind(cmd)
		},
	}
	root.SetOut(e.out)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (yaml, json or toml)")
	pf.String("db-driver", "postgres", "database driver: postgres or sqlite")
	pf.String("db-url", "", "database URL (env DATABASE_URL)")
	pf.String("migrations-dir", "migrations", "directory of SQL migrations for postgres")
	pf.String("redis-url", "", "Redis URL used to wake worker pools (env REDIS_URL, optional)")

	root.AddCommand(
		newRetryCmd(e),
		newCleanupCmd(e),
		newReapCmd(e),
		newJobsCmd(e),
		newKeysCmd(e),
	)
	return root
}

func (e *env) bind(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for key, name := range map[string]string{
		"database.driver":         "db-driver",
		"database.url":            "db-url",
		"database.migrations_dir": "migrations-dir",
		"redis.url":               "redis-url",
	} {
		if err := e.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	for key, envName := range map[string]string{
		"database.driver": "DATABASE_DRIVER",
		"database.url":    "DATABASE_URL",
		"redis.url":       "REDIS_URL",
	} {
		if err := e.v.BindEnv(key, envName); err != nil {
			return fmt.Errorf("bind %s: %w", envName, err)
		}
	}

	if path, _ := flags.GetString("config"); path != "" {
		e.v.SetConfigFile(path)
		if err := e.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return nil
}

func (e *env) databaseConfig() (config.DatabaseConfig, error) {
	cfg := config.DatabaseConfig{
		Driver:        strings.ToLower(e.v.GetString("database.driver")),
		URL:           e.v.GetString("database.url"),
		MaxOpenConns:  2,
		MaxIdleConns:  1,
		MigrationsDir: e.v.GetString("database.migrations_dir"),
	}
	if cfg.URL == "" {
		return cfg, fmt.Errorf("database URL is required (--db-url or DATABASE_URL)")
	}
	if cfg.Driver != "postgres" && cfg.Driver != "sqlite" {
		return cfg, fmt.Errorf("db-driver must be postgres or sqlite, got %q", cfg.Driver)
	}
	return cfg, nil
}

// withStore opens the store, runs fn and closes the store.
func (e *env) withStore(ctx context.Context, fn func(store.Store) error) error {
	cfg, err := e.databaseConfig()
	if err != nil {
		return err
	}
	st, closeStore, err := e.openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeStore()
	return fn(st)
}

// service builds a queue service whose wakes publish synchronously, since the process exits
// right after the command.
func (e *env) service(ctx context.Context, st store.Store) *queue.Service {
	return queue.NewService(st, nil, queue.WakerFunc(func() { e.wake(ctx) }), nil, e.logger)
}

// wake publishes a wake message when a Redis URL is configured. Failure only delays pickup.
func (e *env) wake(ctx context.Context) {
	url := e.v.GetString("redis.url")
	if url == "" || e.openNotify == nil {
		return
	}
	n, closeFn, err := e.openNotify(url)
	if err != nil {
		e.logger.Warn("redis unavailable, workers will pick up jobs on their next poll", "error", err)
		return
	}
	defer closeFn()
	if err := n.Publish(ctx, cache.WakeChannel, "wake"); err != nil {
		e.logger.Warn("publishing queue wake failed", "error", err)
	}
}
