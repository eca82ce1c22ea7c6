// Package metadata implements the Metadata Store (C2): the durable, transactional record
// of every file, backed by PostgreSQL via pgx/pgxpool.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	gwerrors "github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

const maxTransactionRetries = 3

var _ types.MetadataStore = (*Store)(nil)

// Config configures the Postgres-backed Metadata Store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	ConnectTimeout  time.Duration
	MaxConnLifetime time.Duration
}

// Store is the PostgreSQL-backed Metadata Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool against cfg.DSN and ensures the schema exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("metadata store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("metadata store: create pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("metadata store: ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Save inserts a new file_metadata row, setting createTime/updateTime.
func (s *Store) Save(ctx context.Context, meta *types.FileMetadata) error {
	now := time.Now()
	meta.CreateTime = now
	meta.UpdateTime = now
	if meta.UploadTime.IsZero() {
		meta.UploadTime = now
	}
	if meta.LastAccessTime.IsZero() {
		meta.LastAccessTime = now
	}

	_, err := s.pool.Exec(ctx, insertFileQuery, fileArgs(meta)...)
	if err != nil {
		return mapPgError(err, "Save", meta.FileID)
	}
	return nil
}

// Update requires an existing fileId and touches updateTime.
func (s *Store) Update(ctx context.Context, meta *types.FileMetadata) error {
	meta.UpdateTime = time.Now()

	tag, err := s.pool.Exec(ctx, updateFileQuery, updateFileArgs(meta)...)
	if err != nil {
		return mapPgError(err, "Update", meta.FileID)
	}
	if tag.RowsAffected() == 0 {
		return gwerrors.New(gwerrors.KindNotFound, "file not found").
			WithComponent("metadata").WithOperation("Update").WithDetail("fileId", meta.FileID)
	}
	return nil
}

// FindActive returns the row for fileID iff it belongs to familyID and is not soft-deleted.
func (s *Store) FindActive(ctx context.Context, fileID, familyID string) (*types.FileMetadata, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+fileColumns+`
		FROM file_metadata
		WHERE file_id = $1 AND family_id = $2 AND deleted = FALSE`, fileID, familyID)

	meta, err := scanFile(row)
	if err != nil {
		return nil, mapPgError(err, "FindActive", fileID)
	}
	return meta, nil
}

// FindByID is unscoped (ignores familyId and deleted), used for authorization/ownership
// checks and GC.
func (s *Store) FindByID(ctx context.Context, fileID string) (*types.FileMetadata, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_metadata WHERE file_id = $1`, fileID)

	meta, err := scanFile(row)
	if err != nil {
		return nil, mapPgError(err, "FindByID", fileID)
	}
	return meta, nil
}

// SoftDelete marks a row deleted without removing it, per the core's retain-for-audit policy.
func (s *Store) SoftDelete(ctx context.Context, fileID string, ts time.Time) error {
	tag, err := s.pool.Exec(ctx, `
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

// IncrementAccessCount is an atomic +1 plus lastAccessTime touch.
func (s *Store) IncrementAccessCount(ctx context.Context, fileID string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE file_metadata SET access_count = access_count + 1, last_access_time = $2
		WHERE file_id = $1`, fileID, ts)
	if err != nil {
		return mapPgError(err, "IncrementAccessCount", fileID)
	}
	return nil
}

// SearchActive is a case-insensitive substring match over name/description/tags, sorted by
// uploadTime descending, with the total count of matches (ignoring paging) for callers that
// need it.
func (s *Store) SearchActive(ctx context.Context, familyID, keyword string, paging types.Paging) ([]types.FileMetadata, int, error) {
	limit, offset := pagingBounds(paging)
	pattern := "%" + strings.ToLower(keyword) + "%"

	rows, err := s.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM file_metadata
		WHERE family_id = $1 AND deleted = FALSE
		  AND (LOWER(original_name) LIKE $2 OR LOWER(description) LIKE $2
		       OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE LOWER(t) LIKE $2))
		ORDER BY upload_time DESC
		LIMIT $3 OFFSET $4`, familyID, pattern, limit, offset)
	if err != nil {
		return nil, 0, mapPgError(err, "SearchActive", familyID)
	}
	defer rows.Close()

	files, err := scanFiles(rows)
	if err != nil {
		return nil, 0, mapPgError(err, "SearchActive", familyID)
	}

	var total int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM file_metadata
		WHERE family_id = $1 AND deleted = FALSE
		  AND (LOWER(original_name) LIKE $2 OR LOWER(description) LIKE $2
		       OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE LOWER(t) LIKE $2))`,
		familyID, pattern).Scan(&total)
	if err != nil {
		return nil, 0, mapPgError(err, "SearchActive", familyID)
	}

	return files, total, nil
}

// ListActive returns the active rows in familyID/folderPath and in every folder below it;
// callers separate the folder's own files from its sub-folders.
func (s *Store) ListActive(ctx context.Context, familyID, folderPath string) ([]types.FileMetadata, error) {
	prefix := strings.TrimSuffix(folderPath, "/") + "/%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM file_metadata
		WHERE family_id = $1 AND (folder_path = $2 OR folder_path LIKE $3) AND deleted = FALSE
		ORDER BY upload_time DESC`, familyID, folderPath, prefix)
	if err != nil {
		return nil, mapPgError(err, "ListActive", familyID)
	}
	defer rows.Close()

	files, err := scanFiles(rows)
	if err != nil {
		return nil, mapPgError(err, "ListActive", familyID)
	}
	return files, nil
}

// CountActiveByFamily is used by the Statistics Engine's recompute.
func (s *Store) CountActiveByFamily(ctx context.Context, familyID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM file_metadata WHERE family_id = $1 AND deleted = FALSE`, familyID).Scan(&n)
	if err != nil {
		return 0, mapPgError(err, "CountActiveByFamily", familyID)
	}
	return n, nil
}

// SumSizeByFamily is used by the Statistics Engine's recompute.
func (s *Store) SumSizeByFamily(ctx context.Context, familyID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(file_size), 0) FROM file_metadata
		WHERE family_id = $1 AND deleted = FALSE`, familyID).Scan(&n)
	if err != nil {
		return 0, mapPgError(err, "SumSizeByFamily", familyID)
	}
	return n, nil
}

// CountByTypeByFamily returns per-category counts for recompute, classifying each row the
// same way the File Validator does.
func (s *Store) CountByTypeByFamily(ctx context.Context, familyID string) (map[types.Category]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_type, original_name FROM file_metadata
		WHERE family_id = $1 AND deleted = FALSE`, familyID)
	if err != nil {
		return nil, mapPgError(err, "CountByTypeByFamily", familyID)
	}
	defer rows.Close()

	counts := make(map[types.Category]int64)
	for rows.Next() {
		var fileType, name string
		if err := rows.Scan(&fileType, &name); err != nil {
			return nil, err
		}
		counts[types.ClassifyCategory(fileType, name)]++
	}
	return counts, rows.Err()
}

func pagingBounds(p types.Paging) (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = 50
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// isRetryableError reports whether a PostgreSQL error is a deadlock or serialization
// failure, both safe to retry within WithTransaction.
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001":
			return true
		}
	}
	return false
}

func mapPgError(err error, operation, fileID string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return gwerrors.New(gwerrors.KindNotFound, "file not found").
			WithComponent("metadata").WithOperation(operation).WithDetail("fileId", fileID)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return gwerrors.New(gwerrors.KindConflict, "file metadata already exists").
			WithComponent("metadata").WithOperation(operation).WithDetail("fileId", fileID).WithCause(err)
	}
	return gwerrors.New(gwerrors.KindAdapterIO, "metadata store error").
		WithComponent("metadata").WithOperation(operation).WithCause(err)
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return json.Marshal(attrs)
}

func marshalCategoryCounts(counts map[types.Category]int64) ([]byte, error) {
	if counts == nil {
		counts = map[types.Category]int64{}
	}
	return json.Marshal(counts)
}
