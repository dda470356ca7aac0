package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/pedilo-api/internal/audit"
	"github.com/noah-isme/pedilo-api/internal/catalog"
	"github.com/noah-isme/pedilo-api/internal/config"
	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/obs"
	"github.com/noah-isme/pedilo-api/internal/order"
	"github.com/noah-isme/pedilo-api/internal/promotion"
	"github.com/noah-isme/pedilo-api/internal/resilience"
	"github.com/noah-isme/pedilo-api/internal/store"
	"github.com/noah-isme/pedilo-api/internal/store/memory"
)

// Store is everything the HTTP surface and the worker need from persistence.
// Both *store.Postgres and *memory.Store implement it.
type Store interface {
	merchant.Querier
	catalog.Querier
	promotion.Querier
	order.Querier
	audit.Store
	events.EventStore
	Ping(ctx context.Context) error
}

// Dependencies holds the shared infrastructure handed to the router and the worker.
type Dependencies struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    Store
	Redis    *redis.Client
	Tasks    *asynq.Client
	Registry *prometheus.Registry
	Meter    metric.Meter

	closers []func() error
}

// NewDependencies connects the store, Redis and the task queue described by cfg.
func NewDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Registry: NewRegistry(cfg.Obs.MetricsNamespace),
		Meter:    otel.Meter("github.com/noah-isme/pedilo-api"),
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.Store = st
	if pg, ok := st.(*store.Postgres); ok {
		d.closers = append(d.closers, func() error { pg.Close(); return nil })
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	d.Redis = redis.NewClient(redisOpts)
	d.closers = append(d.closers, d.Redis.Close)
	if err := redisotel.InstrumentTracing(d.Redis); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(d.Redis); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		d.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	taskOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("parse task queue redis url: %w", err)
	}
	d.Tasks = asynq.NewClient(taskOpt)
	d.closers = append(d.closers, d.Tasks.Close)

	return d, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Store, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn().Msg("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	if cfg.DBAutoMigrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pg, err := store.Open(ctx, cfg.DatabaseURL, store.Options{
		MaxConns: int32(cfg.DBMaxConns),
		MinConns: int32(cfg.DBMinConns),
	})
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// NewRegistry returns a registry with the runtime, breaker and domain collectors
// registered.
func NewRegistry(namespace string) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	resilience.MustRegister(reg)
	obs.MustRegisterDomainMetrics(namespace, reg)
	return reg
}

// Close releases every connection opened by NewDependencies.
func (d *Dependencies) Close() error {
	var errs error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	d.closers = nil
	return errs
}
