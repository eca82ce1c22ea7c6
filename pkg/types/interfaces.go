package types

import (
	"context"
	"time"
)

// StorageAdapter is the common contract implemented by both Storage Adapter variants
// (LocalFS, ObjectStore). Selection between them happens once at startup via an explicit
// registry keyed by storage.type (design note: explicit strategy registry, not conditional beans).
type StorageAdapter interface {
	// Upload writes payload into the family-scoped namespace and returns the backend-specific
	// storage coordinate (storagePath).
	Upload(ctx context.Context, meta *FileMetadata, payload []byte) (storagePath string, err error)

	// Download resolves the object belonging to fileId within familyId's namespace.
	Download(ctx context.Context, fileID, familyID string) ([]byte, error)

	// Delete removes the object; returns true iff an object was actually removed (idempotent).
	Delete(ctx context.Context, fileID, familyID string) (bool, error)

	// List returns the immediate children of folderPath within familyID's namespace.
	List(ctx context.Context, familyID, folderPath string) ([]string, error)

	// IsHealthy reports whether the backend is reachable and writable.
	IsHealthy(ctx context.Context) bool

	// AccessURL returns a time-bounded access URL, or "" if the backend has none to offer.
	AccessURL(ctx context.Context, fileID, familyID string, expireMinutes int) (string, error)

	// Type identifies which StorageType this adapter implements.
	Type() StorageType
}

// MetadataStore is the durable record of every file (C2). All writes must be transactional
// with the Statistics Engine's counters (see WithTransaction below).
type MetadataStore interface {
	Save(ctx context.Context, meta *FileMetadata) error
	Update(ctx context.Context, meta *FileMetadata) error
	FindActive(ctx context.Context, fileID, familyID string) (*FileMetadata, error)
	FindByID(ctx context.Context, fileID string) (*FileMetadata, error)
	SoftDelete(ctx context.Context, fileID string, ts time.Time) error
	IncrementAccessCount(ctx context.Context, fileID string, ts time.Time) error
	SearchActive(ctx context.Context, familyID, keyword string, paging Paging) ([]FileMetadata, int, error)
	ListActive(ctx context.Context, familyID, folderPath string) ([]FileMetadata, error)
	CountActiveByFamily(ctx context.Context, familyID string) (int64, error)
	SumSizeByFamily(ctx context.Context, familyID string) (int64, error)
	CountByTypeByFamily(ctx context.Context, familyID string) (map[Category]int64, error)

	// WithTransaction runs fn with a MetadataTransaction that both C2 and C6 writes share,
	// so a file row and its family's aggregated counters commit or roll back together.
	WithTransaction(ctx context.Context, fn func(tx MetadataTransaction) error) error
}

// MetadataTransaction is the transactional view of MetadataStore handed to fn by
// WithTransaction; it exposes the same CRUD surface scoped to the enclosing transaction.
type MetadataTransaction interface {
	Save(ctx context.Context, meta *FileMetadata) error
	Update(ctx context.Context, meta *FileMetadata) error
	SoftDelete(ctx context.Context, fileID string, ts time.Time) error
	UpsertStats(ctx context.Context, stats *FamilyStorageStats) error
	GetStats(ctx context.Context, familyID string) (*FamilyStorageStats, error)
}

// MetricsCollector defines the metrics collection interface.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(key string, size int64)
	RecordCacheMiss(key string, size int64)
	RecordError(operation string, err error)
	GetMetrics() map[string]interface{}
}

// ConfigManager defines configuration management interface.
type ConfigManager interface {
	Get(key string) interface{}
	GetString(key string) string
	GetInt(key string) int
	GetDuration(key string) time.Duration
	GetBool(key string) bool
	Watch(key string, callback func(interface{}))
	Reload() error
}

// HealthChecker defines health monitoring interface.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
	RegisterCheck(name string, check func(context.Context) error)
	GetStatus() map[string]HealthStatus
}

// ConnectionManager defines connection pool management.
type ConnectionManager interface {
	GetConnection() interface{}
	ReturnConnection(conn interface{})
	HealthCheck() error
	ScalePool(targetSize int) error
	GetStats() ConnectionStats
}
