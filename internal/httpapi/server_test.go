package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/familyhub/gateway/internal/fileservice"
	"github.com/familyhub/gateway/internal/interceptor"
	"github.com/familyhub/gateway/internal/stats"
	"github.com/familyhub/gateway/internal/validator"
	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// fakeStorage/fakeStore mirror internal/fileservice's test doubles; duplicated here since
// they are unexported to that package.
type fakeStorage struct{ objects map[string][]byte }

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: make(map[string][]byte)} }
func (f *fakeStorage) key(fileID, familyID string) string { return familyID + "/" + fileID }
func (f *fakeStorage) Upload(ctx context.Context, meta *types.FileMetadata, payload []byte) (string, error) {
	path := f.key(meta.FileID, meta.FamilyID)
	f.objects[path] = payload
	return path, nil
}
func (f *fakeStorage) Download(ctx context.Context, fileID, familyID string) ([]byte, error) {
	return f.objects[f.key(fileID, familyID)], nil
}
func (f *fakeStorage) Delete(ctx context.Context, fileID, familyID string) (bool, error) {
	delete(f.objects, f.key(fileID, familyID))
	return true, nil
}
func (f *fakeStorage) List(ctx context.Context, familyID, folderPath string) ([]string, error) {
	return nil, nil
}
func (f *fakeStorage) IsHealthy(ctx context.Context) bool { return true }
func (f *fakeStorage) AccessURL(ctx context.Context, fileID, familyID string, expireMinutes int) (string, error) {
	return "https://example.invalid/" + f.key(fileID, familyID), nil
}
func (f *fakeStorage) Type() types.StorageType { return types.StorageLocal }

// fakeStore is a minimal in-memory types.MetadataStore/MetadataTransaction double, mirroring
// internal/fileservice's test fixture (unexported there, so duplicated at this boundary).
type fakeStore struct {
	mu    sync.Mutex
	files map[string]*types.FileMetadata
	stats map[string]*types.FamilyStorageStats
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[string]*types.FileMetadata), stats: make(map[string]*types.FamilyStorageStats)}
}

func (s *fakeStore) Save(ctx context.Context, meta *types.FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *meta
	s.files[meta.FileID] = &cp
	return nil
}
func (s *fakeStore) Update(ctx context.Context, meta *types.FileMetadata) error { return s.Save(ctx, meta) }
func (s *fakeStore) FindActive(ctx context.Context, fileID, familyID string) (*types.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[fileID]
	if !ok || m.Deleted || m.FamilyID != familyID {
		return nil, errors.New(errors.KindNotFound, "not found")
	}
	cp := *m
	return &cp, nil
}
func (s *fakeStore) FindByID(ctx context.Context, fileID string) (*types.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[fileID]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "not found")
	}
	cp := *m
	return &cp, nil
}
func (s *fakeStore) SoftDelete(ctx context.Context, fileID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.files[fileID]
	if !ok {
		return errors.New(errors.KindNotFound, "not found")
	}
	m.Deleted = true
	return nil
}
func (s *fakeStore) IncrementAccessCount(ctx context.Context, fileID string, ts time.Time) error {
	return nil
}
func (s *fakeStore) SearchActive(ctx context.Context, familyID, keyword string, paging types.Paging) ([]types.FileMetadata, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []types.FileMetadata
	for _, f := range s.files {
		if f.FamilyID != familyID || f.Deleted {
			continue
		}
		if keyword == "" || strings.Contains(strings.ToLower(f.OriginalName), strings.ToLower(keyword)) {
			matches = append(matches, *f)
		}
	}
	return matches, len(matches), nil
}
func (s *fakeStore) ListActive(ctx context.Context, familyID, folderPath string) ([]types.FileMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.FileMetadata
	for _, f := range s.files {
		if f.FamilyID == familyID && !f.Deleted {
			out = append(out, *f)
		}
	}
	return out, nil
}
func (s *fakeStore) CountActiveByFamily(ctx context.Context, familyID string) (int64, error) { return 0, nil }
func (s *fakeStore) SumSizeByFamily(ctx context.Context, familyID string) (int64, error)     { return 0, nil }
func (s *fakeStore) CountByTypeByFamily(ctx context.Context, familyID string) (map[types.Category]int64, error) {
	return nil, nil
}
func (s *fakeStore) WithTransaction(ctx context.Context, fn func(tx types.MetadataTransaction) error) error {
	return fn(s)
}
func (s *fakeStore) UpsertStats(ctx context.Context, fs *types.FamilyStorageStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fs
	s.stats[fs.FamilyID] = &cp
	return nil
}
func (s *fakeStore) GetStats(ctx context.Context, familyID string) (*types.FamilyStorageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[familyID]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "no stats row")
	}
	cp := *st
	return &cp, nil
}

func newTestServer() *Server {
	storage := newFakeStorage()
	store := newFakeStore()
	v := validator.New(types.StorageConfig{MaxFileSize: 1 << 20, AllowedExtensions: []string{"txt"}})
	idSeq := 0
	chain := interceptor.New(interceptor.Config{
		Storage:   storage,
		Metadata:  store,
		Validator: v,
		Stats:     stats.New(store),
		NewFileID: func() string {
			idSeq++
			return "file-" + string(rune('a'+idSeq))
		},
	})
	svc := fileservice.New(chain, store, nil, storage, nil, nil)
	return NewServer(DefaultServerConfig(), svc, nil)
}

func multipartUploadBody(t *testing.T, familyID, folderPath, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	_ = w.WriteField("familyId", familyID)
	_ = w.WriteField("folderPath", folderPath)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte(content))
	w.Close()
	return body, w.FormDataContentType()
}

func TestServer_UploadThenDownload(t *testing.T) {
	s := newTestServer()
	body, contentType := multipartUploadBody(t, "fam123", "/docs", "notes.txt", "hello world")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/storage/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-Id", "user1")
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var uploadResp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &uploadResp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	fileID, _ := uploadResp["fileId"].(string)
	if fileID == "" {
		t.Fatalf("upload response missing fileId: %v", uploadResp)
	}

	downloadReq := httptest.NewRequest(http.MethodGet, "/api/v1/storage/files/download/"+fileID+"?familyId=fam123", nil)
	downloadReq.Header.Set("X-User-Id", "user1")
	downloadReq.Header.Set("X-Family-Ids", "fam123")
	downloadRR := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(downloadRR, downloadReq)

	if downloadRR.Code != http.StatusOK {
		t.Fatalf("download status = %d, body = %s", downloadRR.Code, downloadRR.Body.String())
	}
	if downloadRR.Body.String() != "hello world" {
		t.Errorf("downloaded body = %q, want %q", downloadRR.Body.String(), "hello world")
	}
	if downloadRR.Header().Get("X-Trace-Id") == "" {
		t.Error("response missing X-Trace-Id header")
	}
}

func TestServer_UploadRejectsDisallowedExtension(t *testing.T) {
	s := newTestServer()
	body, contentType := multipartUploadBody(t, "fam123", "/docs", "virus.exe", "hello")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/storage/files/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-Id", "user1")
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["ruleId"] != "UNSUPPORTED_TYPE" {
		t.Errorf("ruleId = %v, want UNSUPPORTED_TYPE", resp["ruleId"])
	}
}

func TestServer_StatsNotMemberIsForbidden(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/storage/stats/fam123", nil)
	req.Header.Set("X-User-Id", "user1")
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403; body = %s", rr.Code, rr.Body.String())
	}
}
