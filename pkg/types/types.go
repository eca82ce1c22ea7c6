package types

import (
	"io"
	"time"

	"github.com/familyhub/gateway/internal/config"
)

// Visibility controls who may read a file.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityFamily  Visibility = "FAMILY"
	VisibilityPublic  Visibility = "PUBLIC"
)

// Valid reports whether v is one of the known visibility values.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityFamily, VisibilityPublic:
		return true
	default:
		return false
	}
}

// StorageType names which Storage Adapter backend owns a file's bytes.
type StorageType string

const (
	StorageLocal  StorageType = "local"
	StorageObject StorageType = "object"
)

// OperationType is the kind of user-facing operation driving the Interceptor Chain.
type OperationType string

const (
	OpUpload   OperationType = "UPLOAD"
	OpDownload OperationType = "DOWNLOAD"
	OpDelete   OperationType = "DELETE"
	OpModify   OperationType = "MODIFY"
	OpView     OperationType = "VIEW"
	OpShare    OperationType = "SHARE"
)

// Stage is a ProcessingContext's position in the Interceptor Chain state machine.
type Stage string

const (
	StageInit            Stage = "INIT"
	StageValidated       Stage = "VALIDATED"
	StageFileStored      Stage = "FILE_STORED"
	StageMetadataWritten Stage = "METADATA_WRITTEN"
	StageStatsUpdated    Stage = "STATS_UPDATED"
	StageCompleted       Stage = "COMPLETED"
	StageRolledBack      Stage = "ROLLED_BACK"
)

// Category classifies a file for statistics aggregation.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

// FileMetadata is the central durable entity owned exclusively by the Metadata Store (C2).
type FileMetadata struct {
	FileID         string            `json:"fileId"`
	FamilyID       string            `json:"familyId"`
	OwnerID        string            `json:"ownerId"`
	OriginalName   string            `json:"originalName"`
	FolderPath     string            `json:"folderPath"`
	FileType       string            `json:"fileType"`
	FileSize       int64             `json:"fileSize"`
	StorageType    StorageType       `json:"storageType"`
	StoragePath    string            `json:"storagePath"`
	Visibility     Visibility        `json:"visibility"`
	Description    string            `json:"description,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	CreateTime     time.Time         `json:"createTime"`
	UpdateTime     time.Time         `json:"updateTime"`
	UploadTime     time.Time         `json:"uploadTime"`
	LastAccessTime time.Time         `json:"lastAccessTime"`
	AccessCount    int64             `json:"accessCount"`
	Deleted        bool              `json:"deleted"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// CategoryOf derives the statistics bucket for this file from its stored FileType.
func (m *FileMetadata) CategoryOf() Category {
	return ClassifyCategory(m.FileType, m.OriginalName)
}

// FamilyStorageStats is the single aggregated counters row owned by the Statistics Engine (C6),
// one per familyId.
type FamilyStorageStats struct {
	FamilyID           string             `json:"familyId"`
	TotalFiles         int64              `json:"totalFiles"`
	TotalSize          int64              `json:"totalSize"`
	CategoryCounts     map[Category]int64 `json:"categoryCounts"`
	LargestFileSize    int64              `json:"largestFileSize"`
	LargestFileName    string             `json:"largestFileName"`
	MostRecentFileTime time.Time          `json:"mostRecentFileTime"`
	LastUpdated        time.Time          `json:"lastUpdated"`
	StorageType        StorageType        `json:"storageType,omitempty"`
	StorageHealthy     bool               `json:"storageHealthy,omitempty"`
}

// FileUploadRequest is the transient request admitted by the HTTP surface and handed to C7.
type FileUploadRequest struct {
	FamilyID         string
	UploaderUserID   string
	OriginalFileName string
	FolderPath       string
	Visibility       Visibility
	ContentTypeHint  string
	FileSize         int64
	Payload          io.Reader
}

// ProcessingContext is the transient, per-request state threaded through the Interceptor Chain (C5).
type ProcessingContext struct {
	RequestContext RequestContext
	Operation      OperationType
	Stage          Stage
	TraceID        string

	UploadRequest *FileUploadRequest
	Metadata      *FileMetadata
	PriorMetadata *FileMetadata // snapshot before MODIFY/DELETE, used for stats deltas
	StorageCoords string        // storagePath assigned for this operation
	Payload       []byte        // resolved file bytes, populated for DOWNLOAD
	ContentType   string
	AccessURL     string
	Err           error
}

// RequestContext is the explicit per-request identity/authorization carrier, replacing any
// implicit thread-local user context (design note: explicit RequestContext propagation).
type RequestContext struct {
	UserID    string
	FamilyIDs []string // families the authenticated user belongs to
	TraceID   string
	Deadline  time.Time
}

// IsMember reports whether the request's authenticated user belongs to familyID.
func (r RequestContext) IsMember(familyID string) bool {
	for _, f := range r.FamilyIDs {
		if f == familyID {
			return true
		}
	}
	return false
}

// FileSearchResult is the cached/returned shape of a keyword search.
type FileSearchResult struct {
	Keyword      string         `json:"keyword"`
	MatchedFiles []FileMetadata `json:"matchedFiles"`
	TotalMatches int            `json:"totalMatches"`
}

// FamilyFileList is the cached/returned shape of a folder listing.
type FamilyFileList struct {
	CurrentPath string         `json:"currentPath"`
	Files       []FileMetadata `json:"files"`
	SubFolders  []string       `json:"subFolders"`
	TotalFiles  int            `json:"totalFiles"`
	TotalSize   int64          `json:"totalSize"`
}

// Paging bounds a Metadata Store search/list query.
type Paging struct {
	Offset int
	Limit  int
}

// CacheStats represents cache performance statistics.
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// HealthStatus represents the health status of a component.
type HealthStatus struct {
	Status     string            `json:"status"`
	LastCheck  time.Time         `json:"last_check"`
	Response   time.Duration     `json:"response_time"`
	ErrorCount int64             `json:"error_count"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details"`
}

// ConnectionStats represents connection pool statistics.
type ConnectionStats struct {
	Active      int           `json:"active"`
	Idle        int           `json:"idle"`
	Total       int           `json:"total"`
	MaxOpen     int           `json:"max_open"`
	Lifetime    time.Duration `json:"lifetime"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}

// PerformanceMetrics represents system performance metrics.
type PerformanceMetrics struct {
	Timestamp        time.Time     `json:"timestamp"`
	ReadThroughput   float64       `json:"read_throughput"`
	WriteThroughput  float64       `json:"write_throughput"`
	ReadLatency      time.Duration `json:"read_latency"`
	WriteLatency     time.Duration `json:"write_latency"`
	CacheHitRate     float64       `json:"cache_hit_rate"`
	ActiveUsers      int64         `json:"active_users"`
	PendingRequests  int64         `json:"pending_requests"`
	ErrorRate        float64       `json:"error_rate"`
	NetworkBandwidth int64         `json:"network_bandwidth"`
}

// Configuration type aliases re-exported from internal/config for callers that only need
// the leaf config shapes alongside the domain types above.
type (
	Configuration        = config.Configuration
	GlobalConfig         = config.GlobalConfig
	MonitoringConfig     = config.MonitoringConfig
	MetricsConfig        = config.MetricsConfig
	HealthChecksConfig   = config.HealthChecksConfig
	LoggingConfig        = config.LoggingConfig
	SecurityConfig       = config.SecurityConfig
	NetworkConfig        = config.NetworkConfig
	TimeoutConfig        = config.TimeoutConfig
	RetryConfig          = config.RetryConfig
	CircuitBreakerConfig = config.CircuitBreakerConfig
	StorageConfig        = config.StorageConfig
	ObjectStoreConfig    = config.ObjectStoreConfig
	CacheTTLConfig       = config.CacheTTLConfig
	ProxyConfig          = config.ProxyConfig
)

// ClassifyCategory derives a Category from a MIME type and/or filename extension. Shared by the
// File Validator (C4) and the Statistics Engine (C6) so both agree on bucket assignment.
func ClassifyCategory(mimeOrExt string, name string) Category {
	ext := extOf(mimeOrExt, name)
	switch ext {
	case "jpg", "jpeg", "png", "gif":
		return CategoryImage
	case "pdf", "doc", "docx", "txt":
		return CategoryDocument
	case "mp4", "avi":
		return CategoryVideo
	case "mp3", "wav":
		return CategoryAudio
	case "zip", "rar":
		return CategoryArchive
	default:
		return CategoryOther
	}
}

func extOf(mimeOrExt, name string) string {
	if i := lastIndexByte(name, '.'); i >= 0 && i+1 < len(name) {
		return toLower(name[i+1:])
	}
	switch mimeOrExt {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "application/pdf":
		return "pdf"
	case "video/mp4":
		return "mp4"
	case "audio/mpeg":
		return "mp3"
	}
	return toLower(mimeOrExt)
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func toLower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
