package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/hrguard/internal/api"
	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/source"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event sources and retry scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *cfgPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}

func serve(parent context.Context, cfgPath, addr string) error {
	loader, logger, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	eng := a.engine
	logger.Info("detection pipeline built", "rules", len(eng.Pipeline().Rules()))

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		eng.Reconfigure(newCfg)
		logger.Info("config hot-reloaded", "rules", len(eng.Pipeline().Rules()))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Retry drain schedule ──────────────────────────────────────────────────
	if spec := cfg.Retry.DrainSchedule; spec != "" && cfg.Retry.IsEnabled() {
		stopCron, err := eng.StartScheduler(ctx, spec)
		if err != nil {
			return err
		}
		defer stopCron()
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(eng, a.incidents, loader, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if k := cfg.Sources.Kafka; k.Enabled {
		g.Go(func() error { return source.NewKafkaConsumer(k, eng, logger).Run(gctx) })
	}
	if n := cfg.Sources.NATS; n.Enabled {
		g.Go(func() error { return source.NewNATSSubscriber(n, eng, logger).Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	logger.Info("goodbye")
	return err
}
