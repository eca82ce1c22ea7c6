// Package proxy composes the TCP Protocol Proxy's four protocol front-ends (C8) behind one
// audit pipeline, decoupling audit-sink I/O from each proxy's connection loop via the
// shared batch processor.
package proxy

import (
	"context"
	"log/slog"

	"github.com/familyhub/gateway/internal/batch"
	"github.com/familyhub/gateway/internal/proxy/engine"
)

// BatchedAuditor implements engine.Auditor by submitting each record to a batch.Processor,
// so a slow audit sink never blocks a proxy connection's hot path (spec §4.8/§5).
type BatchedAuditor struct {
	processor *batch.Processor
}

// NewBatchedAuditor wraps processor as an engine.Auditor.
func NewBatchedAuditor(processor *batch.Processor) *BatchedAuditor {
	return &BatchedAuditor{processor: processor}
}

// Record implements engine.Auditor.
func (a *BatchedAuditor) Record(rec engine.AuditRecord) {
	_ = a.processor.Submit("proxy_audit", rec)
}

// LogSink is a batch.Sink that writes audit records to structured logs. It is the default
// sink, wired by NewDefaultAuditPipeline (which internal/gateway calls); operators needing durable audit storage can swap in a
// Postgres- or object-store-backed Sink without touching the proxy packages.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a LogSink, defaulting to slog.Default() when logger is nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "proxy.audit")}
}

// Flush implements batch.Sink.
func (s *LogSink) Flush(ctx context.Context, items []batch.Item) error {
	for _, item := range items {
		rec, ok := item.Payload.(engine.AuditRecord)
		if !ok {
			continue
		}
		s.logger.Info("audit",
			"proto", rec.Proto,
			"client_ip", rec.ClientIP,
			"user", rec.User,
			"database", rec.Database,
			"operation", rec.Operation,
			"target", rec.Target,
			"snippet", rec.Snippet,
			"risk", rec.Risk,
			"result", rec.Result,
			"duration", rec.Duration,
		)
	}
	return nil
}
