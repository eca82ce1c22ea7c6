// Package fileservice implements the File Storage Service (C7): the thin façade the HTTP
// surface calls. It builds a ProcessingContext for each user-facing operation and runs it
// through the Interceptor Chain (C5); List/Search/Stats read through C2/C3 directly since
// they have no write side effects for C5 to sequence.
package fileservice

import (
	"context"
	"strings"
	"time"

	"github.com/familyhub/gateway/internal/interceptor"
	"github.com/familyhub/gateway/internal/metacache"
	"github.com/familyhub/gateway/internal/metrics"
	"github.com/familyhub/gateway/internal/stats"
	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/traceid"
	"github.com/familyhub/gateway/pkg/types"
)

// Service is the orchestrator (C7) exposed to the HTTP surface.
type Service struct {
	chain    *interceptor.Chain
	metadata types.MetadataStore
	cache    *metacache.Cache
	storage  types.StorageAdapter
	metrics  *metrics.Collector
	stats    *stats.Engine
}

// New builds a File Storage Service from its composed components. metricsCollector and
// statsEngine may be nil: operations run uninstrumented, and Stats falls back to a
// zero-valued row instead of recomputing one, respectively.
func New(chain *interceptor.Chain, metadata types.MetadataStore, cache *metacache.Cache, storage types.StorageAdapter, metricsCollector *metrics.Collector, statsEngine *stats.Engine) *Service {
	return &Service{chain: chain, metadata: metadata, cache: cache, storage: storage, metrics: metricsCollector, stats: statsEngine}
}

// recordOperation reports elapsed time, size, and outcome for op to the metrics collector,
// a no-op when the service was built without one.
func (s *Service) recordOperation(op string, start time.Time, size int64, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperation(op, time.Since(start), size, err == nil)
	if err != nil {
		s.metrics.RecordError(op, err)
	}
}

// Upload runs the UPLOAD chain and returns the final metadata row. Validation errors surface
// as-is; any other failure is reported as UPLOAD_FAILED.
func (s *Service) Upload(ctx context.Context, rc types.RequestContext, req *types.FileUploadRequest) (*types.FileMetadata, error) {
	start := time.Now()
	pc := &types.ProcessingContext{
		RequestContext: rc,
		Operation:      types.OpUpload,
		TraceID:        traceid.New(),
		UploadRequest:  req,
		Metadata:       &types.FileMetadata{},
	}
	err := s.chain.Execute(ctx, pc)
	s.recordOperation("upload", start, req.FileSize, err)
	if err != nil {
		return nil, wrapFailure(err, "UPLOAD_FAILED")
	}
	return pc.Metadata, nil
}

// Download authorizes and streams a file's bytes, content type, and name.
func (s *Service) Download(ctx context.Context, rc types.RequestContext, fileID, familyID string) ([]byte, string, string, error) {
	start := time.Now()
	pc := &types.ProcessingContext{
		RequestContext: rc,
		Operation:      types.OpDownload,
		TraceID:        traceid.New(),
		Metadata:       &types.FileMetadata{FileID: fileID, FamilyID: familyID},
	}
	err := s.chain.Execute(ctx, pc)
	s.recordOperation("download", start, int64(len(pc.Payload)), err)
	if err != nil {
		return nil, "", "", err
	}
	return pc.Payload, pc.ContentType, pc.Metadata.OriginalName, nil
}

// Delete removes a file. Only the file's owner may delete it.
func (s *Service) Delete(ctx context.Context, rc types.RequestContext, fileID, familyID string) error {
	start := time.Now()
	pc := &types.ProcessingContext{
		RequestContext: rc,
		Operation:      types.OpDelete,
		TraceID:        traceid.New(),
		Metadata:       &types.FileMetadata{FileID: fileID, FamilyID: familyID},
	}
	err := s.chain.Execute(ctx, pc)
	s.recordOperation("delete", start, 0, err)
	return err
}

// AccessURL returns a time-bounded URL for fileID, authorized the same way as Download.
func (s *Service) AccessURL(ctx context.Context, rc types.RequestContext, fileID, familyID string, expireMinutes int) (string, error) {
	start := time.Now()
	pc := &types.ProcessingContext{
		RequestContext: rc,
		Operation:      types.OpShare,
		TraceID:        traceid.New(),
		Metadata:       &types.FileMetadata{FileID: fileID, FamilyID: familyID},
	}
	err := s.chain.Execute(ctx, pc)
	s.recordOperation("share", start, 0, err)
	if err != nil {
		return "", err
	}
	return pc.AccessURL, nil
}

// List returns the files directly inside folderPath plus its immediate sub-folders.
func (s *Service) List(ctx context.Context, rc types.RequestContext, familyID, folderPath string) (*types.FamilyFileList, error) {
	start := time.Now()
	if !rc.IsMember(familyID) {
		return nil, errors.New(errors.KindPermissionDenied, "not a member of this family").
			WithComponent("fileservice").WithOperation("list")
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetList(ctx, familyID, folderPath); ok {
			s.recordOperation("list", start, 0, nil)
			if s.metrics != nil {
				s.metrics.RecordDetailedOperation(metrics.OpList, familyID, time.Since(start), 0, metrics.CacheSourceL1, nil)
			}
			return cached, nil
		}
	}

	all, err := s.metadata.ListActive(ctx, familyID, folderPath)
	if err != nil {
		s.recordOperation("list", start, 0, err)
		return nil, errors.New(errors.KindInternal, "failed to list files").
			WithComponent("fileservice").WithOperation("list").WithCause(err)
	}

	var files []types.FileMetadata
	subFolders := make(map[string]struct{})
	var totalSize int64
	for _, f := range all {
		if f.FolderPath == folderPath {
			files = append(files, f)
			totalSize += f.FileSize
			continue
		}
		if sub := strictSubFolder(folderPath, f.FolderPath); sub != "" {
			subFolders[sub] = struct{}{}
		}
	}

	list := &types.FamilyFileList{
		CurrentPath: folderPath,
		Files:       files,
		TotalFiles:  len(files),
		TotalSize:   totalSize,
	}
	for sub := range subFolders {
		list.SubFolders = append(list.SubFolders, sub)
	}

	if s.cache != nil {
		s.cache.PutList(ctx, familyID, folderPath, list)
	}
	s.recordOperation("list", start, int64(list.TotalSize), nil)
	if s.metrics != nil {
		s.metrics.RecordDetailedOperation(metrics.OpList, familyID, time.Since(start), int64(list.TotalSize), metrics.CacheSourceBackend, nil)
	}
	return list, nil
}

// Search performs a case-insensitive keyword search over a family's active files.
func (s *Service) Search(ctx context.Context, rc types.RequestContext, familyID, keyword string, paging types.Paging) (*types.FileSearchResult, error) {
	start := time.Now()
	if !rc.IsMember(familyID) {
		return nil, errors.New(errors.KindPermissionDenied, "not a member of this family").
			WithComponent("fileservice").WithOperation("search")
	}

	if s.cache != nil {
		if cached, ok := s.cache.GetSearch(ctx, familyID, keyword); ok {
			s.recordOperation("search", start, 0, nil)
			if s.metrics != nil {
				s.metrics.RecordDetailedOperation(metrics.OpSearch, familyID, time.Since(start), 0, metrics.CacheSourceL1, nil)
			}
			return cached, nil
		}
	}

	matches, total, err := s.metadata.SearchActive(ctx, familyID, keyword, paging)
	if err != nil {
		s.recordOperation("search", start, 0, err)
		return nil, errors.New(errors.KindInternal, "search failed").
			WithComponent("fileservice").WithOperation("search").WithCause(err)
	}

	result := &types.FileSearchResult{
		Keyword:      keyword,
		MatchedFiles: matches,
		TotalMatches: total,
	}
	if s.cache != nil {
		s.cache.PutSearch(ctx, familyID, keyword, result)
	}
	s.recordOperation("search", start, 0, nil)
	if s.metrics != nil {
		s.metrics.RecordDetailedOperation(metrics.OpSearch, familyID, time.Since(start), 0, metrics.CacheSourceBackend, nil)
	}
	return result, nil
}

// Stats reads a family's aggregated storage counters and fills in the active adapter's
// type and health.
func (s *Service) Stats(ctx context.Context, rc types.RequestContext, familyID string) (*types.FamilyStorageStats, error) {
	start := time.Now()
	if !rc.IsMember(familyID) {
		return nil, errors.New(errors.KindPermissionDenied, "not a member of this family").
			WithComponent("fileservice").WithOperation("stats")
	}

	var result *types.FamilyStorageStats
	var needsRecompute bool
	err := s.metadata.WithTransaction(ctx, func(tx types.MetadataTransaction) error {
		found, err := tx.GetStats(ctx, familyID)
		if err != nil {
			if errors.As(err, errors.KindNotFound) {
				needsRecompute = true
				return nil
			}
			return err
		}
		result = found
		return nil
	})
	if err == nil && needsRecompute {
		// No stats row yet for this family (first read, or files that predate the counters
		// table, e.g. a migration backfill) — derive one authoritatively from the active
		// metadata set instead of reporting all-zero counters.
		if s.stats != nil {
			result, err = s.stats.Recompute(ctx, familyID)
		} else {
			result = &types.FamilyStorageStats{FamilyID: familyID, LastUpdated: time.Now()}
		}
	}
	s.recordOperation("stats", start, 0, err)
	if err != nil {
		return nil, errors.New(errors.KindInternal, "failed to read stats").
			WithComponent("fileservice").WithOperation("stats").WithCause(err)
	}

	result.StorageType = s.storage.Type()
	result.StorageHealthy = s.storage.IsHealthy(ctx)
	return result, nil
}

// wrapFailure returns err unchanged if it is already a VALIDATION error; otherwise it relabels
// err with the given rule id (e.g. UPLOAD_FAILED) while preserving its original Kind, per
// spec §4.7's "storage/metadata/stats errors surface as UPLOAD_FAILED" policy.
func wrapFailure(err error, ruleID string) error {
	ge, ok := err.(*errors.GatewayError)
	if !ok {
		wrapped := errors.New(errors.KindInternal, err.Error()).WithCause(err).WithComponent("fileservice")
		wrapped.RuleID = ruleID
		return wrapped
	}
	if ge.Kind == errors.KindValidation {
		return err
	}
	wrapped := errors.New(ge.Kind, ge.Message).WithCause(ge).WithComponent("fileservice")
	wrapped.RuleID = ruleID
	return wrapped
}

// strictSubFolder returns the immediate child segment of path below prefix, or "" if path is
// not a strict extension of prefix.
func strictSubFolder(prefix, path string) string {
	if prefix == path {
		return ""
	}
	trimmedPrefix := strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, trimmedPrefix+"/") {
		return ""
	}
	rest := strings.TrimPrefix(path, trimmedPrefix+"/")
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if rest == "" {
		return ""
	}
	return trimmedPrefix + "/" + rest
}
