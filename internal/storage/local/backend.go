// Package local implements the LocalFS Storage Adapter variant: files live under
// <basePath>/families/<familyId>/<sanitized folderPath>/, one file per <fileId>.<ext>.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/familyhub/gateway/pkg/types"
	"github.com/familyhub/gateway/pkg/utils"
)

var _ types.StorageAdapter = (*Backend)(nil)

// Config configures the LocalFS adapter.
type Config struct {
	BasePath   string
	AutoCreate bool
}

// Backend is the LocalFS Storage Adapter.
type Backend struct {
	basePath   string
	autoCreate bool

	mu      sync.Mutex
	metrics backendMetrics
}

type backendMetrics struct {
	requests int64
	errors   int64
}

// NewBackend creates a LocalFS backend rooted at cfg.BasePath.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage: base_path cannot be empty")
	}
	b := &Backend{basePath: filepath.Clean(cfg.BasePath), autoCreate: cfg.AutoCreate}

	if cfg.AutoCreate {
		if err := os.MkdirAll(b.basePath, 0750); err != nil {
			return nil, fmt.Errorf("local storage: create base path: %w", err)
		}
	}
	return b, nil
}

// Type reports this adapter's StorageType.
func (b *Backend) Type() types.StorageType { return types.StorageLocal }

// sanitizeFolderPath strips leading/trailing slashes and any ".." segment, per the
// Storage Adapter's hard traversal guard (applied regardless of upstream validation).
func sanitizeFolderPath(folderPath string) string {
	folderPath = strings.Trim(folderPath, "/")
	parts := strings.Split(folderPath, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == ".." || p == "." {
			continue
		}
		clean = append(clean, p)
	}
	return strings.Join(clean, "/")
}

func (b *Backend) familyDir(familyID string) (string, error) {
	return utils.SecureJoin(b.basePath, "families", familyID)
}

// Upload writes payload under the family namespace, using meta's FolderPath, FileID and
// the extension from OriginalName.
func (b *Backend) Upload(_ context.Context, meta *types.FileMetadata, payload []byte) (string, error) {
	b.recordRequest()

	folder := sanitizeFolderPath(meta.FolderPath)
	dir, err := utils.SecureJoin(b.basePath, "families", meta.FamilyID, folder)
	if err != nil {
		b.recordError()
		return "", fmt.Errorf("local storage: %w", err)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		b.recordError()
		return "", fmt.Errorf("local storage: create directory: %w", err)
	}

	ext := filepath.Ext(meta.OriginalName)
	target := filepath.Join(dir, meta.FileID+ext)

	if err := os.WriteFile(target, payload, 0640); err != nil {
		b.recordError()
		return "", fmt.Errorf("local storage: write file: %w", err)
	}
	return target, nil
}

// Download resolves the object by scanning the family namespace for a leaf name starting
// with "<fileId>.", per the adapter's lookup contract.
func (b *Backend) Download(_ context.Context, fileID, familyID string) ([]byte, error) {
	b.recordRequest()

	path, err := b.resolve(fileID, familyID)
	if err != nil {
		b.recordError()
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.recordError()
		return nil, fmt.Errorf("local storage: read file: %w", err)
	}
	return data, nil
}

// Delete removes the object for fileID, returning true iff a file was actually removed.
func (b *Backend) Delete(_ context.Context, fileID, familyID string) (bool, error) {
	b.recordRequest()

	path, err := b.resolve(fileID, familyID)
	if err != nil {
		return false, nil //nolint:nilerr // not-found is not an error for an idempotent delete
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		b.recordError()
		return false, fmt.Errorf("local storage: remove file: %w", err)
	}
	return true, nil
}

// List returns the immediate children of familyID/folderPath.
func (b *Backend) List(_ context.Context, familyID, folderPath string) ([]string, error) {
	b.recordRequest()

	dir, err := utils.SecureJoin(b.basePath, "families", familyID, sanitizeFolderPath(folderPath))
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		b.recordError()
		return nil, fmt.Errorf("local storage: list directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// IsHealthy reports whether the base path exists, is a directory, and is writable,
// creating it on demand when auto-create is enabled.
func (b *Backend) IsHealthy(_ context.Context) bool {
	info, err := os.Stat(b.basePath)
	if err != nil {
		if os.IsNotExist(err) && b.autoCreate {
			return os.MkdirAll(b.basePath, 0750) == nil
		}
		return false
	}
	if !info.IsDir() {
		return false
	}
	probe := filepath.Join(b.basePath, ".write-probe")
	if err := os.WriteFile(probe, []byte{}, 0640); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}

// AccessURL returns a relative API path for LocalFS-backed files; there is no presigning
// for the local filesystem.
func (b *Backend) AccessURL(_ context.Context, fileID, familyID string, _ int) (string, error) {
	return fmt.Sprintf("/api/v1/families/%s/files/%s/download", familyID, fileID), nil
}

func (b *Backend) resolve(fileID, familyID string) (string, error) {
	famDir, err := b.familyDir(familyID)
	if err != nil {
		return "", fmt.Errorf("local storage: %w", err)
	}

	var found string
	err = filepath.Walk(famDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), fileID+".") {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil || found == "" {
		return "", fmt.Errorf("local storage: file %s not found in family %s", fileID, familyID)
	}
	return found, nil
}

func (b *Backend) recordRequest() {
	b.mu.Lock()
	b.metrics.requests++
	b.mu.Unlock()
}

func (b *Backend) recordError() {
	b.mu.Lock()
	b.metrics.errors++
	b.mu.Unlock()
}

// Metrics returns simple request/error counters for health/status reporting.
func (b *Backend) Metrics() (requests, errors int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics.requests, b.metrics.errors
}
