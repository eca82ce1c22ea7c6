package batch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	flushes [][]Item
	err     error
}

func (s *recordingSink) Flush(_ context.Context, items []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Item, len(items))
	copy(cp, items)
	s.flushes = append(s.flushes, cp)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.flushes {
		n += len(f)
	}
	return n
}

func TestProcessor_FlushesOnMaxBatchSize(t *testing.T) {
	sink := &recordingSink{}
	p := NewProcessor(sink, &ProcessorConfig{MaxBatchSize: 3, MaxWaitTime: time.Hour, MaxConcurrency: 1})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	for i := 0; i < 3; i++ {
		if err := p.Submit("stats", i); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := sink.count(); got != 3 {
		t.Errorf("sink received %d items, want 3", got)
	}
}

func TestProcessor_FlushesOnWaitTime(t *testing.T) {
	sink := &recordingSink{}
	p := NewProcessor(sink, &ProcessorConfig{MaxBatchSize: 100, MaxWaitTime: 20 * time.Millisecond, MaxConcurrency: 1})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Submit("audit", "record-1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := sink.count(); got != 1 {
		t.Errorf("sink received %d items, want 1", got)
	}
}

func TestProcessor_StopFlushesPending(t *testing.T) {
	sink := &recordingSink{}
	p := NewProcessor(sink, &ProcessorConfig{MaxBatchSize: 100, MaxWaitTime: time.Hour, MaxConcurrency: 1})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := p.Submit("audit", "pending"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := sink.count(); got != 1 {
		t.Errorf("sink received %d items after Stop, want 1", got)
	}
}

func TestProcessor_SubmitBeforeStartFails(t *testing.T) {
	p := NewProcessor(&recordingSink{}, nil)
	if err := p.Submit("audit", "x"); err == nil {
		t.Error("Submit() before Start() should error")
	}
}

func TestProcessor_DoubleStartFails(t *testing.T) {
	p := NewProcessor(&recordingSink{}, &ProcessorConfig{MaxBatchSize: 10, MaxWaitTime: time.Hour, MaxConcurrency: 1})
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Start(); err == nil {
		t.Error("second Start() should error")
	}
}

func TestProcessor_ErrorCountsIncrement(t *testing.T) {
	sink := &recordingSink{err: context.DeadlineExceeded}
	p := NewProcessor(sink, &ProcessorConfig{MaxBatchSize: 1, MaxWaitTime: time.Hour, MaxConcurrency: 1})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Submit("stats", 1); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stats := p.GetStats()
	if stats.ErrorCount == 0 {
		t.Error("expected ErrorCount > 0 when sink returns an error")
	}
}
