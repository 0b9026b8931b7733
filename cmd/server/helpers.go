package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/metrics"
	"github.com/gyaneshwarpardhi/karmachain/internal/store"
	"github.com/gyaneshwarpardhi/karmachain/internal/store/redisstore"
	"github.com/gyaneshwarpardhi/karmachain/internal/store/sqlstore"
)

// newLogger builds the process logger from the log section of the config.
func newLogger(w io.Writer, conf config.LogConf) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(conf.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if conf.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore connects the configured backend and wraps it with retries.
func openStore(ctx context.Context, conf config.StoreConf, logger *slog.Logger) (store.Store, error) {
	var (
		base store.Store
		err  error
	)
	switch conf.Driver {
	case "memory":
		base = store.NewMemory()
	case "sqlite", "postgres":
		base, err = sqlstore.Open(ctx, conf.Driver, conf.DSN)
	case "redis":
		base, err = redisstore.Dial(ctx, conf.RedisAddr, conf.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store driver %q", conf.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", conf.Driver, err)
	}
	logger.Info("store opened", "driver", conf.Driver)

	return store.WithRetry(base, store.RetryOptions{
		Timeout:     time.Duration(conf.TimeoutMs) * time.Millisecond,
		MaxAttempts: conf.MaxAttempts,
		BaseDelay:   time.Duration(conf.BackoffBaseMs) * time.Millisecond,
		MaxDelay:    time.Duration(conf.BackoffMaxMs) * time.Millisecond,
		OnRetry: func(op string, err error) {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			logger.Warn("store call retrying", "op", op, "error", err)
		},
	}), nil
}

// loadConfig reads the --config file and returns it with a logger built from it.
func loadConfig(w io.Writer) (*config.Config, *slog.Logger, error) {
	conf, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return conf, newLogger(w, conf.Log), nil
}
