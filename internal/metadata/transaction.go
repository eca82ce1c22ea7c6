package metadata

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	gwerrors "github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

var _ types.MetadataTransaction = (*tx)(nil)

// tx wraps a pgx.Tx as the shared transactional view C2 and the Statistics Engine (C6)
// write through, so a file row and its family's aggregated counters always commit together.
type tx struct {
	pgtx pgx.Tx
}

// WithTransaction executes fn within a single PostgreSQL transaction, retrying automatically
// on deadlock or serialization failure.
func (s *Store) WithTransaction(ctx context.Context, fn func(t types.MetadataTransaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		pgtx, err := s.pool.Begin(ctx)
		if err != nil {
			return gwerrors.New(gwerrors.KindAdapterIO, "begin transaction failed").
				WithComponent("metadata").WithOperation("WithTransaction").WithCause(err)
		}

		t := &tx{pgtx: pgtx}
		if err := fn(t); err != nil {
			_ = pgtx.Rollback(ctx)
			if isRetryableError(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return err
		}

		if err := pgtx.Commit(ctx); err != nil {
			if isRetryableError(err) {
				lastErr = err
				time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
				continue
			}
			return mapPgError(err, "WithTransaction", "")
		}
		return nil
	}

	return mapPgError(lastErr, "WithTransaction", "")
}

func (t *tx) Save(ctx context.Context, meta *types.FileMetadata) error {
	now := time.Now()
	meta.CreateTime = now
	meta.UpdateTime = now
	if meta.UploadTime.IsZero() {
		meta.UploadTime = now
	}
	if meta.LastAccessTime.IsZero() {
		meta.LastAccessTime = now
	}

	_, err := t.pgtx.Exec(ctx, insertFileQuery, fileArgs(meta)...)
	if err != nil {
		return mapPgError(err, "Save", meta.FileID)
	}
	return nil
}

func (t *tx) Update(ctx context.Context, meta *types.FileMetadata) error {
	meta.UpdateTime = time.Now()

	tag, err := t.pgtx.Exec(ctx, updateFileQuery, updateFileArgs(meta)...)
	if err != nil {
		return mapPgError(err, "Update", meta.FileID)
	}
	if tag.RowsAffected() == 0 {
		return gwerrors.New(gwerrors.KindNotFound, "file not found").
			WithComponent("metadata").WithOperation("Update").WithDetail("fileId", meta.FileID)
	}
	return nil
}

func (t *tx) SoftDelete(ctx context.Context, fileID string, ts time.Time) error {
	tag, err := t.pgtx.Exec(ctx, `
		UPDATE file_metadata SET deleted = TRUE, update_time = $2 WHERE file_id = $1`, fileID, ts)
	if err != nil {
		return mapPgError(err, "SoftDelete", fileID)
	}
	if tag.RowsAffected() == 0 {
		return gwerrors.New(gwerrors.KindNotFound, "file not found").
			WithComponent("metadata").WithOperation("SoftDelete").WithDetail("fileId", fileID)
	}
	return nil
}

// UpsertStats writes the Statistics Engine's recomputed or incrementally-adjusted counters
// for one family, in the same transaction as the metadata row that triggered the change.
func (t *tx) UpsertStats(ctx context.Context, stats *types.FamilyStorageStats) error {
	counts, err := marshalCategoryCounts(stats.CategoryCounts)
	if err != nil {
		return err
	}

	_, err = t.pgtx.Exec(ctx, `
		INSERT INTO family_storage_stats (
			family_id, total_files, total_size, category_counts,
			largest_file_size, largest_file_name, most_recent_file_time, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (family_id) DO UPDATE SET
			total_files = EXCLUDED.total_files,
			total_size = EXCLUDED.total_size,
			category_counts = EXCLUDED.category_counts,
			largest_file_size = EXCLUDED.largest_file_size,
			largest_file_name = EXCLUDED.largest_file_name,
			most_recent_file_time = EXCLUDED.most_recent_file_time,
			last_updated = EXCLUDED.last_updated`,
		stats.FamilyID, stats.TotalFiles, stats.TotalSize, counts,
		stats.LargestFileSize, stats.LargestFileName, stats.MostRecentFileTime, stats.LastUpdated,
	)
	if err != nil {
		return mapPgError(err, "UpsertStats", stats.FamilyID)
	}
	return nil
}

// GetStats reads the current counters row for familyID, returning a NOT_FOUND error if none
// exists yet (a family with no uploads has never been written).
func (t *tx) GetStats(ctx context.Context, familyID string) (*types.FamilyStorageStats, error) {
	row := t.pgtx.QueryRow(ctx, `
		SELECT family_id, total_files, total_size, category_counts,
		       largest_file_size, largest_file_name, most_recent_file_time, last_updated
		FROM family_storage_stats WHERE family_id = $1`, familyID)

	var stats types.FamilyStorageStats
	var counts []byte
	err := row.Scan(&stats.FamilyID, &stats.TotalFiles, &stats.TotalSize, &counts,
		&stats.LargestFileSize, &stats.LargestFileName, &stats.MostRecentFileTime, &stats.LastUpdated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, gwerrors.New(gwerrors.KindNotFound, "no stats row for family").
				WithComponent("metadata").WithOperation("GetStats").WithDetail("familyId", familyID)
		}
		return nil, mapPgError(err, "GetStats", familyID)
	}

	stats.CategoryCounts = map[types.Category]int64{}
	if len(counts) > 0 {
		_ = json.Unmarshal(counts, &stats.CategoryCounts)
	}
	return &stats, nil
}
