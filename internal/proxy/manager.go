package proxy

import (
	"context"
	"log/slog"
	"sync"

	"github.com/familyhub/gateway/internal/batch"
	"github.com/familyhub/gateway/internal/config"
	"github.com/familyhub/gateway/internal/proxy/engine"
	"github.com/familyhub/gateway/internal/proxy/mongo"
	"github.com/familyhub/gateway/internal/proxy/mysql"
	"github.com/familyhub/gateway/internal/proxy/postgres"
	"github.com/familyhub/gateway/internal/proxy/redisproxy"
)

// Manager starts and stops every enabled protocol proxy from one ProxyConfig.
type Manager struct {
	proxies []*engine.Proxy
	wg      sync.WaitGroup
}

// NewManager builds the enabled proxies from cfg. Auditor is shared across protocols; pass
// nil to disable audit emission entirely. metrics is likewise shared and may be nil.
func NewManager(cfg config.ProxyConfig, auditor engine.Auditor, metrics engine.MetricsRecorder, logger *slog.Logger) *Manager {
	m := &Manager{}

	if cfg.Postgres.Enabled {
		m.proxies = append(m.proxies, engine.New(engine.Config{
			Proto:        "postgres",
			ListenAddr:   cfg.Postgres.ListenAddr,
			DialBackend:  postgres.Dialer(cfg.Postgres.BackendHost, cfg.Postgres.BackendPort),
			NewInspector: postgres.Factory(cfg.DenyPattern),
			Auditor:      auditor,
			Metrics:      metrics,
			Logger:       logger,
		}))
	}
	if cfg.MySQL.Enabled {
		m.proxies = append(m.proxies, engine.New(engine.Config{
			Proto:        "mysql",
			ListenAddr:   cfg.MySQL.ListenAddr,
			DialBackend:  mysql.Dialer(cfg.MySQL.BackendHost, cfg.MySQL.BackendPort),
			NewInspector: mysql.NewInspector(),
			Auditor:      auditor,
			Metrics:      metrics,
			Logger:       logger,
		}))
	}
	if cfg.MongoDB.Enabled {
		m.proxies = append(m.proxies, engine.New(engine.Config{
			Proto:        "mongo",
			ListenAddr:   cfg.MongoDB.ListenAddr,
			DialBackend:  mongo.Dialer(cfg.MongoDB.BackendHost, cfg.MongoDB.BackendPort),
			NewInspector: mongo.NewInspector(),
			Auditor:      auditor,
			Metrics:      metrics,
			Logger:       logger,
		}))
	}
	if cfg.Redis.Enabled {
		m.proxies = append(m.proxies, engine.New(engine.Config{
			Proto:        "redis",
			ListenAddr:   cfg.Redis.ListenAddr,
			DialBackend:  redisproxy.Dialer(cfg.Redis.BackendHost, cfg.Redis.BackendPort),
			NewInspector: redisproxy.NewInspector(),
			Auditor:      auditor,
			Metrics:      metrics,
			Logger:       logger,
		}))
	}
	return m
}

// Serve starts every enabled proxy, each in its own goroutine, and blocks until ctx is
// cancelled and all of them have stopped.
func (m *Manager) Serve(ctx context.Context) {
	for _, p := range m.proxies {
		p := p
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = p.Serve(ctx)
		}()
	}
	m.wg.Wait()
}

// Close stops every proxy's listener without waiting for in-flight connections to drain.
func (m *Manager) Close() {
	for _, p := range m.proxies {
		_ = p.Close()
	}
}

// NewDefaultAuditPipeline builds the standard batch-processor-backed audit pipeline
// (BatchedAuditor submitting to a LogSink-draining Processor), started and ready to use.
func NewDefaultAuditPipeline(logger *slog.Logger) (*BatchedAuditor, *batch.Processor, error) {
	processor := batch.NewProcessor(NewLogSink(logger), nil)
	if err := processor.Start(); err != nil {
		return nil, nil, err
	}
	return NewBatchedAuditor(processor), processor, nil
}
