package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/familyhub/gateway/internal/batch"
	"github.com/familyhub/gateway/internal/proxy/engine"
)

type capturingSink struct {
	mu    sync.Mutex
	items []batch.Item
}

func (s *capturingSink) Flush(ctx context.Context, items []batch.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

func TestBatchedAuditor_SubmitsToProcessor(t *testing.T) {
	sink := &capturingSink{}
	processor := batch.NewProcessor(sink, &batch.ProcessorConfig{
		MaxBatchSize: 1, MaxWaitTime: 50 * time.Millisecond, MaxConcurrency: 1,
	})
	if err := processor.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer processor.Stop()

	auditor := NewBatchedAuditor(processor)
	auditor.Record(engine.AuditRecord{Proto: "postgres", Operation: "QUERY", Result: "OK"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.items)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.items) != 1 {
		t.Fatalf("sink received %d items, want 1", len(sink.items))
	}
	rec, ok := sink.items[0].Payload.(engine.AuditRecord)
	if !ok || rec.Operation != "QUERY" {
		t.Errorf("payload = %+v, want QUERY AuditRecord", sink.items[0].Payload)
	}
}

func TestLogSink_FlushDoesNotErrorOnRecords(t *testing.T) {
	sink := NewLogSink(nil)
	err := sink.Flush(context.Background(), []batch.Item{
		{Payload: engine.AuditRecord{Proto: "postgres", Operation: "QUERY"}},
	})
	if err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}
