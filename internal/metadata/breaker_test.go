package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/familyhub/gateway/internal/circuit"
	gwerrors "github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/health"
	"github.com/familyhub/gateway/pkg/types"
)

type fakeMetadataStore struct {
	err error
}

func (f *fakeMetadataStore) Save(context.Context, *types.FileMetadata) error   { return f.err }
func (f *fakeMetadataStore) Update(context.Context, *types.FileMetadata) error { return f.err }
func (f *fakeMetadataStore) FindActive(context.Context, string, string) (*types.FileMetadata, error) {
	return &types.FileMetadata{}, f.err
}
func (f *fakeMetadataStore) FindByID(context.Context, string) (*types.FileMetadata, error) {
	return &types.FileMetadata{}, f.err
}
func (f *fakeMetadataStore) SoftDelete(context.Context, string, time.Time) error { return f.err }
func (f *fakeMetadataStore) IncrementAccessCount(context.Context, string, time.Time) error {
	return f.err
}
func (f *fakeMetadataStore) SearchActive(context.Context, string, string, types.Paging) ([]types.FileMetadata, int, error) {
	return nil, 0, f.err
}
func (f *fakeMetadataStore) ListActive(context.Context, string, string) ([]types.FileMetadata, error) {
	return nil, f.err
}
func (f *fakeMetadataStore) CountActiveByFamily(context.Context, string) (int64, error) {
	return 0, f.err
}
func (f *fakeMetadataStore) SumSizeByFamily(context.Context, string) (int64, error) { return 0, f.err }
func (f *fakeMetadataStore) CountByTypeByFamily(context.Context, string) (map[types.Category]int64, error) {
	return nil, f.err
}
func (f *fakeMetadataStore) WithTransaction(ctx context.Context, fn func(tx types.MetadataTransaction) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(nil)
}

func tripAfterOneFailure() circuit.Config {
	return circuit.Config{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts circuit.Counts) bool { return counts.ConsecutiveFailures >= 1 },
	}
}

func TestBreakerStore_PassesThroughOnSuccess(t *testing.T) {
	inner := &fakeMetadataStore{}
	cb := circuit.NewCircuitBreaker("test", tripAfterOneFailure())
	s := NewBreakerStore(inner, cb, nil, "metadata")

	if err := s.Save(context.Background(), &types.FileMetadata{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if cb.GetState() != circuit.StateClosed {
		t.Errorf("state = %v, want CLOSED after a success", cb.GetState())
	}
}

func TestBreakerStore_TripsAfterFailureAndFailsFast(t *testing.T) {
	inner := &fakeMetadataStore{err: gwerrors.New(gwerrors.KindAdapterIO, "pool exhausted")}
	cb := circuit.NewCircuitBreaker("test", tripAfterOneFailure())
	s := NewBreakerStore(inner, cb, nil, "metadata")

	if err := s.Save(context.Background(), &types.FileMetadata{}); err == nil {
		t.Fatal("Save() error = nil, want the store's failure")
	}
	if cb.GetState() != circuit.StateOpen {
		t.Fatalf("state = %v, want OPEN after a tripping failure", cb.GetState())
	}

	err := s.Save(context.Background(), &types.FileMetadata{})
	ge, ok := err.(*gwerrors.GatewayError)
	if !ok || ge.Kind != gwerrors.KindAdapterIO {
		t.Errorf("err = %v, want a KindAdapterIO GatewayError", err)
	}
}

func TestBreakerStore_WithTransactionGuardedAtOuterCall(t *testing.T) {
	inner := &fakeMetadataStore{}
	cb := circuit.NewCircuitBreaker("test", tripAfterOneFailure())
	s := NewBreakerStore(inner, cb, nil, "metadata")

	called := false
	err := s.WithTransaction(context.Background(), func(tx types.MetadataTransaction) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction() error = %v", err)
	}
	if !called {
		t.Error("WithTransaction() did not invoke fn")
	}
}

func TestBreakerStore_ReportsToHealthTracker(t *testing.T) {
	inner := &fakeMetadataStore{err: gwerrors.New(gwerrors.KindAdapterIO, "pool exhausted")}
	cb := circuit.NewCircuitBreaker("test", tripAfterOneFailure())
	cfg := health.DefaultConfig()
	cfg.ErrorThreshold = 1
	tracker := health.NewTracker(cfg)
	tracker.RegisterComponent("metadata")
	s := NewBreakerStore(inner, cb, tracker, "metadata")

	if err := s.Save(context.Background(), &types.FileMetadata{}); err == nil {
		t.Fatal("Save() error = nil, want the store's failure")
	}
	if tracker.IsHealthy("metadata") {
		t.Error("tracker still reports metadata healthy after a reported failure")
	}
}
