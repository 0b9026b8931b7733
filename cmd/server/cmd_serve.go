package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/karmachain/internal/api"
	"github.com/gyaneshwarpardhi/karmachain/internal/audit"
	"github.com/gyaneshwarpardhi/karmachain/internal/config"
	"github.com/gyaneshwarpardhi/karmachain/internal/engine"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP intake",
	Long: `Starts the HTTP intake and the worker pool. SIGINT or SIGTERM stops accepting
requests, drains queued events, saves the recommender policy and flushes the
audit mirror before exiting.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	conf, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if serveAddr != "" {
		conf.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, conf.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var mirror audit.Publisher = audit.Nop{}
	if conf.Audit.Kafka.Enabled() {
		k, err := audit.NewKafka(conf.Audit.Kafka, logger)
		if err != nil {
			return err
		}
		mirror = k
		logger.Info("audit mirror enabled", "brokers", conf.Audit.Kafka.Brokers, "topic", conf.Audit.Kafka.Topic)
	}

	// Workers outlive the signal so queued events can drain.
	proc, err := engine.New(context.WithoutCancel(ctx), conf, st,
		engine.WithLogger(logger),
		engine.WithMirror(mirror))
	if err != nil {
		return err
	}

	stopWatch, err := config.Watch(cfgPath, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	srv := &http.Server{
		Addr:         conf.Server.Addr,
		Handler:      api.New(proc, st, conf.Server.MaxBatch, logger),
		ReadTimeout:  conf.Server.ReadTimeout.Duration,
		WriteTimeout: conf.Server.WriteTimeout.Duration,
		IdleTimeout:  2 * conf.Server.WriteTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", conf.Server.Addr, "store", conf.Store.Driver, "workers", conf.Engine.Workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conf.Server.ShutdownTimeout.Duration)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := proc.Shutdown(shutCtx); err != nil {
			errs = append(errs, err)
		}
		if err := mirror.Close(shutCtx); err != nil {
			errs = append(errs, fmt.Errorf("audit mirror: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("goodbye")
	return err
}
