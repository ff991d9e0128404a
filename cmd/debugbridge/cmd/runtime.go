package cmd

import (
	"context"
	"errors"
	"fmt"

	"debugbridge/internal/cache"
	"debugbridge/internal/config"
	"debugbridge/internal/events"
	"debugbridge/internal/logging"
	"debugbridge/internal/metrics"
	"debugbridge/internal/orchestrator"
	"debugbridge/internal/remote"
	"debugbridge/internal/telemetry"
	"debugbridge/internal/tools"

	"github.com/redis/go-redis/v9"
)

// runtime wires the components every command that talks to the remote
// process needs.
type runtime struct {
	cfg    *config.Config
	logger logging.Logger
	redis  *redis.Client
	client *remote.Client
	orch   *orchestrator.Orchestrator
	hub    *events.Hub

	shutdownTracing func(context.Context) error
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := logging.FromContext(ctx)
	metrics.RegisterMetrics()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, hub: events.NewHub(), shutdownTracing: shutdown}

	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
		rt.redis = rc
	}

	var resultCache cache.Cache
	switch cfg.Cache.Backend {
	case "redis":
		resultCache = cache.NewRedis(rt.redis, cfg.Redis.KeyPrefix)
	case "memory":
		resultCache = cache.NewMemory()
	default:
		resultCache = cache.Noop{}
	}

	publishers := events.Fanout{rt.hub}
	if cfg.Events.Backend == "redis" {
		publishers = append(publishers, events.NewRedisPublisher(rt.redis, cfg.Redis.EventChannel))
	}

	rt.client = remote.New(remote.Config{
		URL:                cfg.RemoteURL(),
		RequestTimeout:     cfg.Remote.RequestTimeout,
		ConnectTimeout:     cfg.Remote.ConnectTimeout,
		MaxConnectAttempts: cfg.Remote.MaxConnectAttempts,
		ConnectBaseDelay:   cfg.Remote.ConnectBaseDelay,
		ConnectBackoffCap:  cfg.Remote.ConnectBackoffCap,
		BatchInterval:      cfg.Remote.BatchInterval,
		BatchSize:          cfg.Remote.BatchSize,
		HeartbeatInterval:  cfg.Remote.HeartbeatInterval,
		ReadLimit:          cfg.Remote.ReadLimit,
	}, remote.WithLogger(logger.With("component", "remote")))

	rt.orch = orchestrator.New(orchestrator.Options{
		Client:       rt.client,
		Logger:       logger.With("component", "orchestrator"),
		Cache:        resultCache,
		CacheTTL:     cfg.Cache.TTL,
		Events:       publishers,
		AllowedTools: cfg.Orchestrator.AllowedTools,
		MaxParallel:  cfg.Orchestrator.MaxParallel,
	})
	tools.Register(rt.orch)
	rt.orch.RegisterBuiltinTemplates()

	logger.Debug("runtime ready",
		"remote", cfg.RemoteURL(),
		"tools", len(rt.orch.ToolNames()),
		"cache", cfg.Cache.Backend,
		"events", cfg.Events.Backend,
	)
	return rt, nil
}

// Close disconnects from the remote, closes redis and flushes traces.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if err := rt.client.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disconnect: %w", err))
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := rt.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}
