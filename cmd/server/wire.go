package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/hrguard/internal/alert"
	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/cooldown"
	"github.com/gyaneshwarpardhi/hrguard/internal/engine"
	"github.com/gyaneshwarpardhi/hrguard/internal/incident"
	"github.com/gyaneshwarpardhi/hrguard/internal/storage"
	"github.com/gyaneshwarpardhi/hrguard/internal/window"
)

const cooldownCacheSize = 10_000

// app is the fully wired service.
type app struct {
	db        *sql.DB
	redis     *redis.Client
	engine    *engine.Engine
	incidents *storage.IncidentStore
}

// buildApp opens storage and state backends and wires the engine.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := storage.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, incidents: storage.NewIncidentStore(db)}

	var (
		counters  window.CounterStore
		cooldowns cooldown.Store
	)
	switch cfg.State.Backend {
	case "redis":
		rc := cfg.State.Redis
		a.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", rc.Addr, err)
		}
		counters = window.NewRedisStore(a.redis, rc.KeyPrefix, logger)
		cooldowns = cooldown.NewRedisStore(a.redis, rc.KeyPrefix, logger)
	default:
		counters = window.NewMemoryStore()
		cooldowns = cooldown.NewMemoryStore(cooldownCacheSize)
	}
	logger.Info("state backend ready", "backend", cfg.State.Backend)

	reg := alert.NewRegistry()
	reg.Register(alert.NewLogChannel(logger))
	if url := cfg.Alerting.WebhookURL; url != "" {
		reg.Register(alert.NewWebhookChannel(url, nil, time.Duration(cfg.Alerting.WebhookTimeoutMs)*time.Millisecond))
	}
	dispatcher := alert.NewDispatcher(reg, storage.NewNotificationStore(db), alert.DispatcherConfig{
		Recipients:  cfg.Alerting.Recipients,
		BaseURL:     cfg.Detection.BaseURL,
		Module:      cfg.Detection.IncidentModule,
		SendTimeout: time.Duration(cfg.Alerting.WebhookTimeoutMs) * time.Millisecond,
	}, logger)
	logger.Info("alert channels registered", "channels", reg.Names())

	resolver := incident.NewResolver(a.incidents, cooldowns, engine.ResolverSettings(cfg),
		incident.WithNotifier(dispatcher),
		incident.WithSuppressionRecorder(storage.NewSuppressionStore(db)),
		incident.WithLogger(logger),
	)

	a.engine = engine.New(ctx, cfg, engine.Deps{
		Counters:   counters,
		Resolver:   resolver,
		RetryStore: storage.NewRetryStore(db),
		Logger:     logger,
	})
	return a, nil
}

// Close releases the engine and backends. Safe on a partially built app.
func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}
