package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/familyhub/gateway/internal/circuit"
	gwerrors "github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/health"
	"github.com/familyhub/gateway/pkg/types"
)

// BreakerStore wraps a MetadataStore with a circuit breaker: once the database's failure
// rate trips the breaker, every call fails fast with ADAPTER_IO instead of piling up on a
// stalled connection pool. Every outcome is also reported to a health.Tracker component.
// WithTransaction is guarded at the outer call only; the retrying/rollback behavior of the
// pgx transaction it opens is untouched.
type BreakerStore struct {
	inner     types.MetadataStore
	breaker   *circuit.CircuitBreaker
	tracker   *health.Tracker
	component string
}

// NewBreakerStore wraps inner with cb. tracker may be nil, in which case only the breaker
// itself trips and resets; nothing is reported to a health component.
func NewBreakerStore(inner types.MetadataStore, cb *circuit.CircuitBreaker, tracker *health.Tracker, component string) *BreakerStore {
	return &BreakerStore{inner: inner, breaker: cb, tracker: tracker, component: component}
}

var _ types.MetadataStore = (*BreakerStore)(nil)

func (b *BreakerStore) guard(ctx context.Context, fn func(context.Context) error) error {
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
		return gwerrors.New(gwerrors.KindAdapterIO, "metadata store circuit open").
			WithComponent(b.component).WithCause(err)
	}
	return err
}

// Save implements types.MetadataStore.
func (b *BreakerStore) Save(ctx context.Context, meta *types.FileMetadata) error {
	return b.guard(ctx, func(ctx context.Context) error { return b.inner.Save(ctx, meta) })
}

// Update implements types.MetadataStore.
func (b *BreakerStore) Update(ctx context.Context, meta *types.FileMetadata) error {
	return b.guard(ctx, func(ctx context.Context) error { return b.inner.Update(ctx, meta) })
}

// FindActive implements types.MetadataStore.
func (b *BreakerStore) FindActive(ctx context.Context, fileID, familyID string) (*types.FileMetadata, error) {
	var meta *types.FileMetadata
	err := b.guard(ctx, func(ctx context.Context) error {
		var fErr error
		meta, fErr = b.inner.FindActive(ctx, fileID, familyID)
		return fErr
	})
	return meta, err
}

// FindByID implements types.MetadataStore.
func (b *BreakerStore) FindByID(ctx context.Context, fileID string) (*types.FileMetadata, error) {
	var meta *types.FileMetadata
	err := b.guard(ctx, func(ctx context.Context) error {
		var fErr error
		meta, fErr = b.inner.FindByID(ctx, fileID)
		return fErr
	})
	return meta, err
}

// SoftDelete implements types.MetadataStore.
func (b *BreakerStore) SoftDelete(ctx context.Context, fileID string, ts time.Time) error {
	return b.guard(ctx, func(ctx context.Context) error { return b.inner.SoftDelete(ctx, fileID, ts) })
}

// IncrementAccessCount implements types.MetadataStore.
func (b *BreakerStore) IncrementAccessCount(ctx context.Context, fileID string, ts time.Time) error {
	return b.guard(ctx, func(ctx context.Context) error { return b.inner.IncrementAccessCount(ctx, fileID, ts) })
}

// SearchActive implements types.MetadataStore.
func (b *BreakerStore) SearchActive(ctx context.Context, familyID, keyword string, paging types.Paging) ([]types.FileMetadata, int, error) {
	var files []types.FileMetadata
	var total int
	err := b.guard(ctx, func(ctx context.Context) error {
		var sErr error
		files, total, sErr = b.inner.SearchActive(ctx, familyID, keyword, paging)
		return sErr
	})
	return files, total, err
}

// ListActive implements types.MetadataStore.
func (b *BreakerStore) ListActive(ctx context.Context, familyID, folderPath string) ([]types.FileMetadata, error) {
	var files []types.FileMetadata
	err := b.guard(ctx, func(ctx context.Context) error {
		var lErr error
		files, lErr = b.inner.ListActive(ctx, familyID, folderPath)
		return lErr
	})
	return files, err
}

// CountActiveByFamily implements types.MetadataStore.
func (b *BreakerStore) CountActiveByFamily(ctx context.Context, familyID string) (int64, error) {
	var n int64
	err := b.guard(ctx, func(ctx context.Context) error {
		var cErr error
		n, cErr = b.inner.CountActiveByFamily(ctx, familyID)
		return cErr
	})
	return n, err
}

// SumSizeByFamily implements types.MetadataStore.
func (b *BreakerStore) SumSizeByFamily(ctx context.Context, familyID string) (int64, error) {
	var n int64
	err := b.guard(ctx, func(ctx context.Context) error {
		var sErr error
		n, sErr = b.inner.SumSizeByFamily(ctx, familyID)
		return sErr
	})
	return n, err
}

// CountByTypeByFamily implements types.MetadataStore.
func (b *BreakerStore) CountByTypeByFamily(ctx context.Context, familyID string) (map[types.Category]int64, error) {
	var counts map[types.Category]int64
	err := b.guard(ctx, func(ctx context.Context) error {
		var cErr error
		counts, cErr = b.inner.CountByTypeByFamily(ctx, familyID)
		return cErr
	})
	return counts, err
}

// WithTransaction implements types.MetadataStore. Only the outer call is guarded by the
// breaker; fn runs against the inner store's own transaction/retry machinery unchanged.
func (b *BreakerStore) WithTransaction(ctx context.Context, fn func(tx types.MetadataTransaction) error) error {
	return b.guard(ctx, func(ctx context.Context) error { return b.inner.WithTransaction(ctx, fn) })
}
