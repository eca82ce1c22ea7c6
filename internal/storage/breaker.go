package storage

import (
	"context"
	"errors"

	"github.com/familyhub/gateway/internal/circuit"
	gwerrors "github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/health"
	"github.com/familyhub/gateway/pkg/types"
)

// BreakerAdapter wraps a StorageAdapter with a circuit breaker: once the backend's failure
// rate trips the breaker, Upload/Download/Delete/List/AccessURL fail fast with ADAPTER_IO
// instead of piling up on a hanging backend. Every outcome is also reported to a
// health.Tracker component, so the admin API's health endpoint reflects a degraded adapter.
type BreakerAdapter struct {
	inner     types.StorageAdapter
	breaker   *circuit.CircuitBreaker
	tracker   *health.Tracker
	component string
}

// NewBreakerAdapter wraps inner with cb. tracker may be nil, in which case only the breaker
// itself trips and resets; nothing is reported to a health component.
func NewBreakerAdapter(inner types.StorageAdapter, cb *circuit.CircuitBreaker, tracker *health.Tracker, component string) *BreakerAdapter {
	return &BreakerAdapter{inner: inner, breaker: cb, tracker: tracker, component: component}
}

var _ types.StorageAdapter = (*BreakerAdapter)(nil)

// guard runs fn through the circuit breaker, translating a trip into ADAPTER_IO and
// recording the outcome against the wrapped component.
func (b *BreakerAdapter) guard(ctx context.Context, fn func(context.Context) error) error {
	err := b.breaker.ExecuteWithContext(ctx, fn)
	if err == nil {
		if b.tracker != nil {
			b.tracker.RecordSuccess(b.component)
		}
		return nil
	}
	if b.tracker != nil {
		b.tracker.RecordError(b.component, err)
	}
	if errors.Is(err, circuit.ErrOpenState) || errors.Is(err, circuit.ErrTooManyRequests) {
		return gwerrors.New(gwerrors.KindAdapterIO, "storage adapter circuit open").
			WithComponent(b.component).WithCause(err)
	}
	return err
}

// Upload implements types.StorageAdapter.
func (b *BreakerAdapter) Upload(ctx context.Context, meta *types.FileMetadata, payload []byte) (string, error) {
	var path string
	err := b.guard(ctx, func(ctx context.Context) error {
		var uErr error
		path, uErr = b.inner.Upload(ctx, meta, payload)
		return uErr
	})
	return path, err
}

// Download implements types.StorageAdapter.
func (b *BreakerAdapter) Download(ctx context.Context, fileID, familyID string) ([]byte, error) {
	var data []byte
	err := b.guard(ctx, func(ctx context.Context) error {
		var dErr error
		data, dErr = b.inner.Download(ctx, fileID, familyID)
		return dErr
	})
	return data, err
}

// Delete implements types.StorageAdapter.
func (b *BreakerAdapter) Delete(ctx context.Context, fileID, familyID string) (bool, error) {
	var ok bool
	err := b.guard(ctx, func(ctx context.Context) error {
		var dErr error
		ok, dErr = b.inner.Delete(ctx, fileID, familyID)
		return dErr
	})
	return ok, err
}

// List implements types.StorageAdapter.
func (b *BreakerAdapter) List(ctx context.Context, familyID, folderPath string) ([]string, error) {
	var names []string
	err := b.guard(ctx, func(ctx context.Context) error {
		var lErr error
		names, lErr = b.inner.List(ctx, familyID, folderPath)
		return lErr
	})
	return names, err
}

// AccessURL implements types.StorageAdapter.
func (b *BreakerAdapter) AccessURL(ctx context.Context, fileID, familyID string, expireMinutes int) (string, error) {
	var url string
	err := b.guard(ctx, func(ctx context.Context) error {
		var uErr error
		url, uErr = b.inner.AccessURL(ctx, fileID, familyID, expireMinutes)
		return uErr
	})
	return url, err
}

// IsHealthy bypasses the breaker: it is itself a health probe, not a request the breaker
// should count toward its own trip decision.
func (b *BreakerAdapter) IsHealthy(ctx context.Context) bool { return b.inner.IsHealthy(ctx) }

// Type bypasses the breaker; it is a static property of the wrapped adapter.
func (b *BreakerAdapter) Type() types.StorageType { return b.inner.Type() }
