// Package gateway assembles C1-C8 into one running process: it wires config into the
// Storage Adapter, Metadata Store, Metadata Cache, Statistics Engine, Interceptor Chain and
// File Storage Service, then starts the HTTP API and TCP protocol proxies on top of them.
// Construction order mirrors the dependency graph; Stop tears down in reverse.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/familyhub/gateway/internal/batch"
	"github.com/familyhub/gateway/internal/circuit"
	"github.com/familyhub/gateway/internal/config"
	"github.com/familyhub/gateway/internal/fileservice"
	"github.com/familyhub/gateway/internal/httpapi"
	"github.com/familyhub/gateway/internal/interceptor"
	"github.com/familyhub/gateway/internal/metacache"
	"github.com/familyhub/gateway/internal/metadata"
	"github.com/familyhub/gateway/internal/metrics"
	"github.com/familyhub/gateway/internal/proxy"
	"github.com/familyhub/gateway/internal/stats"
	"github.com/familyhub/gateway/internal/storage"
	"github.com/familyhub/gateway/internal/storage/local"
	"github.com/familyhub/gateway/internal/storage/object"
	"github.com/familyhub/gateway/internal/validator"
	apiserver "github.com/familyhub/gateway/pkg/api"
	gwerrors "github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/health"
	"github.com/familyhub/gateway/pkg/memmon"
	"github.com/familyhub/gateway/pkg/profiling"
	"github.com/familyhub/gateway/pkg/retry"
	"github.com/familyhub/gateway/pkg/status"
	"github.com/familyhub/gateway/pkg/types"
)

// Gateway owns every long-lived component started by the gatewayd process.
type Gateway struct {
	cfg    *config.Configuration
	logger *slog.Logger

	health *health.Tracker
	status *status.Tracker

	metadataStore *metadata.Store
	// metadataView is metadataStore wrapped in a circuit breaker; every package downstream
	// of C2 (stats, interceptor, fileservice) is handed this view instead of the concrete
	// store, so Close() still works on metadataStore directly in Stop.
	metadataView   types.MetadataStore
	redisClient    *redis.Client
	cache          *metacache.Cache
	storageAdapter types.StorageAdapter

	files      *fileservice.Service
	httpServer *httpapi.Server
	adminAPI   *apiserver.Server

	proxies        *proxy.Manager
	auditProcessor *batch.Processor

	metricsCollector *metrics.Collector
	memMonitor       *memmon.MemoryMonitor
	profiler         *profiling.MemoryMonitor

	started bool
}

// New returns a Gateway ready to Start from cfg. A nil logger falls back to slog.Default().
func New(cfg *config.Configuration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{cfg: cfg, logger: logger}
}

// Start brings up every component in dependency order: health/status trackers -> metrics ->
// storage adapter -> metadata store -> cache -> stats/validator/interceptor/file service ->
// HTTP API -> TCP proxies -> memory monitors. It returns once everything is serving.
func (g *Gateway) Start(ctx context.Context) error {
	if g.started {
		return fmt.Errorf("gateway already started")
	}
	if err := g.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	g.logger.Info("starting family storage gateway",
		"storage_type", g.cfg.Storage.Type,
		"api_port", g.cfg.Global.APIPort,
	)

	g.health = health.NewTracker(health.DefaultConfig())
	g.status = status.NewTracker(status.DefaultTrackerConfig())
	for _, name := range []string{"storage", "metadata", "cache", "httpapi", "proxy"} {
		g.health.RegisterComponent(name)
	}

	var err error
	g.metricsCollector, err = metrics.NewCollector(&metrics.Config{
		Enabled:   g.cfg.Monitoring.Metrics.Enabled,
		Port:      g.cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "gateway",
		Labels:    g.cfg.Monitoring.Metrics.CustomLabels,
	})
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}
	if err := g.metricsCollector.Start(ctx); err != nil {
		return fmt.Errorf("start metrics collector: %w", err)
	}

	if err := g.startStorage(ctx); err != nil {
		g.health.RecordError("storage", err)
		return err
	}
	g.health.RecordSuccess("storage")

	if err := g.startMetadataAndCache(ctx); err != nil {
		g.health.RecordError("metadata", err)
		return err
	}
	g.health.RecordSuccess("metadata")
	g.health.RecordSuccess("cache")

	g.buildFileService()

	g.httpServer = httpapi.NewServer(httpapi.ServerConfig{
		Address: fmt.Sprintf(":%d", g.cfg.Global.APIPort),
	}, g.files, g.logger)
	g.httpServer.StartBackground()
	g.health.RecordSuccess("httpapi")

	g.adminAPI = apiserver.NewServer(apiserver.ServerConfig{
		Address:       fmt.Sprintf(":%d", g.cfg.Global.HealthPort),
		EnableCORS:    false,
		EnableMetrics: false,
	}, g.status, g.health)
	g.adminAPI.StartBackground()

	if err := g.startProxies(ctx); err != nil {
		g.health.RecordError("proxy", err)
		return err
	}
	g.health.RecordSuccess("proxy")

	g.startMemoryMonitors(ctx)

	g.started = true
	g.logger.Info("family storage gateway started")
	return nil
}

// startStorage builds the registry of Storage Adapter variants and resolves cfg.Storage.Type.
func (g *Gateway) startStorage(ctx context.Context) error {
	registry := storage.NewRegistry()
	registry.Register("local", func() (types.StorageAdapter, error) {
		return local.NewBackend(local.Config{
			BasePath:   g.cfg.Storage.Local.BasePath,
			AutoCreate: g.cfg.Storage.Local.AutoCreate,
		})
	})
	registry.Register("object", func() (types.StorageAdapter, error) {
		return object.NewBackend(ctx, object.Config{
			Region:           g.cfg.Storage.Object.Region,
			Endpoint:         g.cfg.Storage.Object.Endpoint,
			AccessKeyID:      g.cfg.Storage.Object.AccessKey,
			SecretAccessKey:  g.cfg.Storage.Object.SecretKey,
			BucketPrefix:     g.cfg.Storage.Object.BucketPrefix,
			AutoCreateBucket: g.cfg.Storage.Object.AutoCreateBucket,
			PathStyle:        g.cfg.Storage.Object.PathStyle,
		})
	})

	adapter, err := registry.Build(g.cfg.Storage.Type)
	if err != nil {
		return fmt.Errorf("storage adapter: %w", err)
	}
	g.storageAdapter = storage.NewBreakerAdapter(adapter, adapterCircuitBreaker("storage-adapter"), g.health, "storage")
	return nil
}

// adapterCircuitBreaker returns a breaker that only counts ADAPTER_IO/TIMEOUT failures
// against its trip threshold, so an ordinary NOT_FOUND (a missing file, not a backend
// failure) never trips it.
func adapterCircuitBreaker(name string) *circuit.CircuitBreaker {
	return circuit.NewCircuitBreaker(name, circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		IsSuccessful: func(err error) bool {
			return err == nil || !(gwerrors.As(err, gwerrors.KindAdapterIO) || gwerrors.As(err, gwerrors.KindTimeout))
		},
	})
}

// startMetadataAndCache opens the Postgres pool (bounded-retry, since this is a startup
// connect rather than a per-operation retry, which spec §4.1/§4.8 forbids) and builds the
// L1/L2 Metadata Cache.
func (g *Gateway) startMetadataAndCache(ctx context.Context) error {
	retryer := retry.New(retry.Config{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			g.logger.Warn("metadata store connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	})

	err := retryer.DoWithContext(ctx, func(ctx context.Context) error {
		store, storeErr := metadata.NewStore(ctx, metadata.Config{
			DSN:             g.cfg.Metadata.DSN,
			MaxConns:        g.cfg.Metadata.MaxConns,
			MinConns:        g.cfg.Metadata.MinConns,
			ConnectTimeout:  g.cfg.Metadata.ConnectTimeout,
			MaxConnLifetime: g.cfg.Metadata.MaxConnLifetime,
		})
		if storeErr != nil {
			return gwerrors.New(gwerrors.KindAdapterIO, storeErr.Error()).WithCause(storeErr).WithComponent("metadata")
		}
		g.metadataStore = store
		return nil
	})
	if err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}
	g.metadataView = metadata.NewBreakerStore(g.metadataStore, adapterCircuitBreaker("metadata-store"), g.health, "metadata")

	if g.cfg.Cache.RedisAddr != "" {
		g.redisClient = redis.NewClient(&redis.Options{
			Addr: g.cfg.Cache.RedisAddr,
			DB:   g.cfg.Cache.RedisDB,
		})
		if pingErr := g.redisClient.Ping(ctx).Err(); pingErr != nil {
			g.logger.Warn("metadata cache L2 (redis) unreachable, running L1-only", "addr", g.cfg.Cache.RedisAddr, "error", pingErr)
			g.redisClient = nil
		}
	}

	g.cache = metacache.New(metacache.TTLConfig{
		FileTTL:    g.cfg.Cache.FileTTL,
		SearchTTL:  g.cfg.Cache.SearchTTL,
		ListTTL:    g.cfg.Cache.ListTTL,
		MaxEntries: g.cfg.Cache.MaxEntries,
	}, g.redisClient)
	return nil
}

// buildFileService wires C4-C7: validator, stats engine, interceptor chain, then the service
// façade the HTTP surface and any future caller drive.
func (g *Gateway) buildFileService() {
	v := validator.New(types.StorageConfig{
		MaxFileSize:       g.cfg.Storage.MaxFileSize,
		AllowedExtensions: g.cfg.Storage.AllowedExtensions,
		AllowedMimeTypes:  g.cfg.Storage.AllowedMimeTypes,
	})
	statsEngine := stats.New(g.metadataView)
	chain := interceptor.New(interceptor.Config{
		Storage:   g.storageAdapter,
		Metadata:  g.metadataView,
		Cache:     g.cache,
		Validator: v,
		Stats:     statsEngine,
		NewFileID: uuid.NewString,
	})
	g.files = fileservice.New(chain, g.metadataView, g.cache, g.storageAdapter, g.metricsCollector, statsEngine)
}

// startProxies builds the audit pipeline (the only consumer of an internal/batch.Processor)
// and every enabled protocol proxy (C8).
func (g *Gateway) startProxies(ctx context.Context) error {
	auditor, processor, err := proxy.NewDefaultAuditPipeline(g.logger)
	if err != nil {
		return fmt.Errorf("audit pipeline: %w", err)
	}
	g.auditProcessor = processor

	g.proxies = proxy.NewManager(g.cfg.Proxy, auditor, g.metricsCollector, g.logger)
	go g.proxies.Serve(ctx)
	return nil
}

// startMemoryMonitors wires pkg/memmon (lightweight in-process sampling) and pkg/profiling
// (pprof HTTP server on Global.ProfilePort), both best-effort: a failure here is logged, not
// fatal, since neither gates serving traffic.
func (g *Gateway) startMemoryMonitors(ctx context.Context) {
	g.memMonitor = memmon.NewMemoryMonitor(memmon.DefaultMonitorConfig())
	if err := g.memMonitor.Start(ctx); err != nil {
		g.logger.Warn("memory monitor failed to start", "error", err)
	}

	thresholds := profiling.DefaultAlertThresholds()
	profCfg := profiling.DefaultMonitorConfig()
	profCfg.Port = g.cfg.Global.ProfilePort
	profCfg.EnablePprof = true

	g.profiler = profiling.NewMemoryMonitor(profCfg, thresholds)
	g.profiler.AddAlertCallback(func(alert profiling.Alert) {
		g.logger.Warn("memory alert", "level", alert.Level.String(), "message", alert.Message)
	})
	if err := g.profiler.Start(ctx); err != nil {
		g.logger.Warn("memory profiler failed to start", "error", err)
	}
}

// Stop tears down every component started by Start, in reverse dependency order, without
// short-circuiting on a stage's error; it returns the last non-nil error of any stage.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.started {
		return fmt.Errorf("gateway not started")
	}
	g.logger.Info("stopping family storage gateway")

	var lastErr error
	record := func(err error) {
		if err != nil {
			lastErr = err
		}
	}

	if g.profiler != nil {
		record(g.profiler.Stop(ctx))
	}
	if g.memMonitor != nil {
		record(g.memMonitor.Stop())
	}
	if g.proxies != nil {
		g.proxies.Close()
	}
	if g.auditProcessor != nil {
		record(g.auditProcessor.Stop())
	}
	if g.adminAPI != nil {
		record(g.adminAPI.Shutdown(ctx))
	}
	if g.httpServer != nil {
		record(g.httpServer.Shutdown(ctx))
	}
	if g.metricsCollector != nil {
		record(g.metricsCollector.Stop(ctx))
	}
	if g.redisClient != nil {
		record(g.redisClient.Close())
	}
	if g.metadataStore != nil {
		g.metadataStore.Close()
	}

	g.started = false
	g.logger.Info("family storage gateway stopped")
	return lastErr
}
