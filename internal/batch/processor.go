// Package batch provides a generic async flush queue used to batch low-priority,
// best-effort work off the request hot path; the gateway uses it for TCP Protocol
// Proxy (C8) audit record writes.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Item is a single unit of queued work. Kind distinguishes the sink that should receive
// it when a Processor is shared across item kinds (it is not, currently, but the field
// keeps batches self-describing in logs and stats).
type Item struct {
	Kind      string
	Payload   interface{}
	Timestamp time.Time
}

// Sink drains a batch of Items. The gateway wires one sink, the proxy audit-log writer;
// a failed Flush is counted in ProcessorStats.ErrorCount without blocking the caller that
// enqueued the item.
type Sink interface {
	Flush(ctx context.Context, items []Item) error
}

// ProcessorConfig contains configuration for the batch processor.
type ProcessorConfig struct {
	MaxBatchSize   int           `yaml:"max_batch_size"`
	MaxWaitTime    time.Duration `yaml:"max_wait_time"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// ProcessorStats tracks batch processor statistics.
type ProcessorStats struct {
	TotalItems       int64   `json:"total_items"`
	BatchCount       int64   `json:"batch_count"`
	AverageBatchSize float64 `json:"average_batch_size"`
	FlushCount       int64   `json:"flush_count"`
	ErrorCount       int64   `json:"error_count"`
}

// Processor accumulates Items and flushes them to a Sink either when MaxBatchSize is
// reached or MaxWaitTime has elapsed, whichever comes first.
type Processor struct {
	maxBatchSize   int
	maxWaitTime    time.Duration
	maxConcurrency int

	mu         sync.Mutex
	pending    []Item
	flushTimer *time.Timer
	stopCh     chan struct{}
	wg         sync.WaitGroup
	started    bool

	sink Sink

	statsMu sync.Mutex
	stats   ProcessorStats
}

// NewProcessor creates a new batch processor flushing to sink.
func NewProcessor(sink Sink, cfg *ProcessorConfig) *Processor {
	if cfg == nil {
		cfg = &ProcessorConfig{
			MaxBatchSize:   100,
			MaxWaitTime:    2 * time.Second,
			MaxConcurrency: 4,
		}
	}
	return &Processor{
		maxBatchSize:   cfg.MaxBatchSize,
		maxWaitTime:    cfg.MaxWaitTime,
		maxConcurrency: cfg.MaxConcurrency,
		stopCh:         make(chan struct{}),
		sink:           sink,
	}
}

// Start starts the processor's periodic flush loop.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("processor already started")
	}
	p.started = true
	p.wg.Add(1)
	go p.processLoop()
	return nil
}

// Stop stops the processor and flushes any pending items.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("processor not started")
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.flush(context.Background())
	return nil
}

// Submit enqueues an item for batching. Submit never blocks on the sink; the caller
// (e.g. a proxy audit record) returns immediately.
func (p *Processor) Submit(kind string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return fmt.Errorf("processor not started")
	}

	p.pending = append(p.pending, Item{Kind: kind, Payload: payload, Timestamp: time.Now()})
	p.statsMu.Lock()
	p.stats.TotalItems++
	p.statsMu.Unlock()

	if len(p.pending) >= p.maxBatchSize {
		go p.flush(context.Background())
	} else if p.flushTimer == nil {
		p.flushTimer = time.AfterFunc(p.maxWaitTime, func() {
			p.flush(context.Background())
		})
	}
	return nil
}

// flush drains the current pending queue to the sink.
func (p *Processor) flush(ctx context.Context) {
	p.mu.Lock()
	if p.flushTimer != nil {
		p.flushTimer.Stop()
		p.flushTimer = nil
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	p.statsMu.Lock()
	p.stats.FlushCount++
	p.stats.BatchCount++
	p.stats.AverageBatchSize = float64(p.stats.TotalItems) / float64(p.stats.BatchCount)
	p.statsMu.Unlock()

	if err := p.sink.Flush(ctx, batch); err != nil {
		p.statsMu.Lock()
		p.stats.ErrorCount++
		p.statsMu.Unlock()
	}
}

// processLoop periodically flushes even when MaxBatchSize has not been reached, bounding
// how stale a queued audit record can become.
func (p *Processor) processLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.maxWaitTime)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.flush(context.Background())
		}
	}
}

// GetStats returns current processor statistics.
func (p *Processor) GetStats() ProcessorStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}
