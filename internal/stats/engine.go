// Package stats implements the Statistics Engine (C6): per-family counters that are always
// written in the same transaction as the metadata row that caused them to change, and can be
// authoritatively recomputed from the active metadata set on demand.
package stats

import (
	"context"
	"time"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// Engine derives and maintains FamilyStorageStats. It never owns the metadata rows it reads
// from (that is C2's job); it only aggregates them into the counters C7 surfaces as "stats".
type Engine struct {
	store types.MetadataStore
}

// New builds a Statistics Engine backed by the given Metadata Store, used for authoritative
// recomputation (Recompute reads directly through the store, outside any single transaction).
func New(store types.MetadataStore) *Engine {
	return &Engine{store: store}
}

// OnFileUploaded folds a newly stored file into its family's counters. Must run inside the
// same MetadataTransaction as the corresponding Save/Update, per spec §4.6.
func (e *Engine) OnFileUploaded(ctx context.Context, tx types.MetadataTransaction, meta *types.FileMetadata) error {
	current, err := currentOrEmpty(ctx, tx, meta.FamilyID)
	if err != nil {
		return err
	}

	current.TotalFiles++
	current.TotalSize += meta.FileSize
	bumpCategory(current, meta.CategoryOf(), 1)

	if meta.FileSize > current.LargestFileSize {
		current.LargestFileSize = meta.FileSize
		current.LargestFileName = meta.OriginalName
	}
	if meta.UploadTime.After(current.MostRecentFileTime) {
		current.MostRecentFileTime = meta.UploadTime
	}
	current.LastUpdated = time.Now()

	return tx.UpsertStats(ctx, current)
}

// OnFileDeleted removes a soft-deleted file's contribution to its family's counters. Counters
// are bounded at zero; they never go negative even if a prior Recompute drifted.
func (e *Engine) OnFileDeleted(ctx context.Context, tx types.MetadataTransaction, meta *types.FileMetadata) error {
	current, err := currentOrEmpty(ctx, tx, meta.FamilyID)
	if err != nil {
		return err
	}

	current.TotalFiles = boundedDec(current.TotalFiles, 1)
	current.TotalSize = boundedDecSize(current.TotalSize, meta.FileSize)
	bumpCategory(current, meta.CategoryOf(), -1)
	current.LastUpdated = time.Now()

	return tx.UpsertStats(ctx, current)
}

// OnFileModified applies a size delta to a family's counters for an in-place overwrite
// (MODIFY reuses the same fileId, see ProcessingContext lifecycle rules).
func (e *Engine) OnFileModified(ctx context.Context, tx types.MetadataTransaction, meta *types.FileMetadata, sizeDelta int64) error {
	current, err := currentOrEmpty(ctx, tx, meta.FamilyID)
	if err != nil {
		return err
	}

	current.TotalSize = boundedDecSize(current.TotalSize+sizeDelta, 0)
	if meta.FileSize > current.LargestFileSize {
		current.LargestFileSize = meta.FileSize
		current.LargestFileName = meta.OriginalName
	}
	current.LastUpdated = time.Now()

	return tx.UpsertStats(ctx, current)
}

// Recompute performs the authoritative re-aggregation over active metadata rows for familyID.
// It is idempotent and safe to call concurrently with uploads (it reads a point-in-time
// snapshot and overwrites the counters row in its own transaction).
func (e *Engine) Recompute(ctx context.Context, familyID string) (*types.FamilyStorageStats, error) {
	totalFiles, err := e.store.CountActiveByFamily(ctx, familyID)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "failed to count active files").
			WithComponent("stats").WithOperation("recompute").WithCause(err)
	}
	totalSize, err := e.store.SumSizeByFamily(ctx, familyID)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "failed to sum active file size").
			WithComponent("stats").WithOperation("recompute").WithCause(err)
	}
	categoryCounts, err := e.store.CountByTypeByFamily(ctx, familyID)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "failed to count active files by category").
			WithComponent("stats").WithOperation("recompute").WithCause(err)
	}

	rows, _, err := e.store.SearchActive(ctx, familyID, "", types.Paging{Limit: 1})
	if err != nil {
		return nil, errors.New(errors.KindInternal, "failed to probe largest/most-recent file").
			WithComponent("stats").WithOperation("recompute").WithCause(err)
	}

	recomputed := &types.FamilyStorageStats{
		FamilyID:       familyID,
		TotalFiles:     totalFiles,
		TotalSize:      totalSize,
		CategoryCounts: categoryCounts,
		LastUpdated:    time.Now(),
	}
	if len(rows) > 0 {
		recomputed.MostRecentFileTime = rows[0].UploadTime
	}

	var upsertErr error
	err = e.store.WithTransaction(ctx, func(tx types.MetadataTransaction) error {
		upsertErr = tx.UpsertStats(ctx, recomputed)
		return upsertErr
	})
	if err != nil {
		return nil, errors.New(errors.KindInternal, "failed to persist recomputed stats").
			WithComponent("stats").WithOperation("recompute").WithCause(err)
	}

	return recomputed, nil
}

func currentOrEmpty(ctx context.Context, tx types.MetadataTransaction, familyID string) (*types.FamilyStorageStats, error) {
	stats, err := tx.GetStats(ctx, familyID)
	if err != nil {
		if errors.As(err, errors.KindNotFound) {
			return &types.FamilyStorageStats{
				FamilyID:       familyID,
				CategoryCounts: make(map[types.Category]int64),
			}, nil
		}
		return nil, err
	}
	if stats.CategoryCounts == nil {
		stats.CategoryCounts = make(map[types.Category]int64)
	}
	return stats, nil
}

func bumpCategory(stats *types.FamilyStorageStats, category types.Category, delta int64) {
	if delta > 0 {
		stats.CategoryCounts[category] += delta
		return
	}
	stats.CategoryCounts[category] = boundedDec(stats.CategoryCounts[category], -delta)
}

func boundedDec(value, amount int64) int64 {
	if value < amount {
		return 0
	}
	return value - amount
}

func boundedDecSize(value, amount int64) int64 {
	result := value - amount
	if result < 0 {
		return 0
	}
	return result
}
