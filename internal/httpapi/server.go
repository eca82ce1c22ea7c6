// Package httpapi is the HTTP surface consuming the File Storage Service (C7): upload,
// download, delete, list, search, stats and access-url endpoints, grounded on the teacher's
// mux+middleware server shape (pkg/api/server.go) generalized from health/status reporting
// to the file storage operations named in spec.md §6.
package httpapi

import (
	"context"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/familyhub/gateway/internal/fileservice"
	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/traceid"
	"github.com/familyhub/gateway/pkg/types"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Address      string        `yaml:"address" json:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns sane defaults for the HTTP surface.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8081",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// Server is the HTTP front-end for the File Storage Service.
type Server struct {
	httpServer *http.Server
	files      *fileservice.Service
	logger     *slog.Logger
	config     ServerConfig
}

// NewServer builds a Server that delegates every handler to files.
func NewServer(config ServerConfig, files *fileservice.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{files: files, logger: logger.With("component", "httpapi"), config: config}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/storage/files/upload", s.handleUpload)
	mux.HandleFunc("/api/v1/storage/files/download/", s.handleDownload)
	mux.HandleFunc("/api/v1/storage/files/search", s.handleSearch)
	mux.HandleFunc("/api/v1/storage/files", s.handleList)
	mux.HandleFunc("/api/v1/storage/files/", s.handleFileByID) // DELETE and /access-url
	mux.HandleFunc("/api/v1/storage/stats/", s.handleStats)

	handler := s.traceMiddleware(mux)
	handler = s.loggingMiddleware(handler)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP surface", "addr", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP surface stopped", "error", err)
		}
	}()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// traceIDKey is the context key under which the per-request trace id is stored.
type traceIDKey struct{}

func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Trace-Id")
		if tid == "" {
			tid = traceid.New()
		}
		w.Header().Set("X-Trace-Id", tid)
		ctx := context.WithValue(r.Context(), traceIDKey{}, tid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-Id, X-Family-Ids")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestContextFrom builds the explicit RequestContext (design note: explicit propagation,
// not a thread-local) from the caller's identity headers.
func requestContextFrom(r *http.Request) types.RequestContext {
	tid, _ := r.Context().Value(traceIDKey{}).(string)
	var families []string
	if raw := r.Header.Get("X-Family-Ids"); raw != "" {
		families = strings.Split(raw, ",")
	}
	return types.RequestContext{
		UserID:    r.Header.Get("X-User-Id"),
		FamilyIDs: families,
		TraceID:   tid,
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, r, http.StatusBadRequest, errors.Validation("MALFORMED_UPLOAD", "request is not a valid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, errors.Validation("EMPTY_FILE", "file part is required"))
		return
	}
	defer file.Close()

	req := &types.FileUploadRequest{
		FamilyID:         r.FormValue("familyId"),
		UploaderUserID:   r.Header.Get("X-User-Id"),
		OriginalFileName: header.Filename,
		FolderPath:       r.FormValue("folderPath"),
		Visibility:       types.Visibility(r.FormValue("visibility")),
		ContentTypeHint:  contentTypeOf(header),
		FileSize:         header.Size,
		Payload:          file,
	}

	meta, err := s.files.Upload(r.Context(), requestContextFrom(r), req)
	if err != nil {
		s.respondError(w, r, 0, err)
		return
	}

	s.respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"fileId":      meta.FileID,
		"fileSize":    meta.FileSize,
		"storageType": meta.StorageType,
		"uploadTime":  meta.UploadTime,
	})
}

func contentTypeOf(header *multipart.FileHeader) string {
	if header.Header == nil {
		return ""
	}
	return header.Header.Get("Content-Type")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	fileID := strings.TrimPrefix(r.URL.Path, "/api/v1/storage/files/download/")
	familyID := r.URL.Query().Get("familyId")

	payload, contentType, name, err := s.files.Download(r.Context(), requestContextFrom(r), fileID, familyID)
	if err != nil {
		s.respondError(w, r, 0, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, bytes.NewReader(payload))
}

func (s *Server) handleFileByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/storage/files/")
	if rest == "" {
		s.respondError(w, r, http.StatusNotFound, errors.New(errors.KindNotFound, "not found"))
		return
	}
	if strings.HasSuffix(rest, "/access-url") {
		s.handleAccessURL(w, r, strings.TrimSuffix(rest, "/access-url"))
		return
	}
	s.handleDelete(w, r, rest)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, fileID string) {
	if r.Method != http.MethodDelete {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	familyID := r.URL.Query().Get("familyId")
	if err := s.files.Delete(r.Context(), requestContextFrom(r), fileID, familyID); err != nil {
		s.respondError(w, r, 0, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, map[string]interface{}{"ok": true, "fileId": fileID})
}

func (s *Server) handleAccessURL(w http.ResponseWriter, r *http.Request, fileID string) {
	if r.Method != http.MethodGet {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	familyID := r.URL.Query().Get("familyId")
	expireMinutes := 15
	if raw := r.URL.Query().Get("expireMinutes"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			expireMinutes = v
		}
	}
	url, err := s.files.AccessURL(r.Context(), requestContextFrom(r), fileID, familyID, expireMinutes)
	if err != nil {
		s.respondError(w, r, 0, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, map[string]interface{}{"accessUrl": url})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	familyID := r.URL.Query().Get("familyId")
	folderPath := r.URL.Query().Get("folderPath")
	if folderPath == "" {
		folderPath = "/"
	}
	list, err := s.files.List(r.Context(), requestContextFrom(r), familyID, folderPath)
	if err != nil {
		s.respondError(w, r, 0, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, list)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	familyID := r.URL.Query().Get("familyId")
	keyword := r.URL.Query().Get("keyword")
	paging := types.Paging{Limit: 50}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			paging.Limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			paging.Offset = v
		}
	}
	result, err := s.files.Search(r.Context(), requestContextFrom(r), familyID, keyword, paging)
	if err != nil {
		s.respondError(w, r, 0, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, r, http.StatusMethodNotAllowed, errors.New(errors.KindValidation, "method not allowed"))
		return
	}
	familyID := strings.TrimPrefix(r.URL.Path, "/api/v1/storage/stats/")
	stats, err := s.files.Stats(r.Context(), requestContextFrom(r), familyID)
	if err != nil {
		s.respondError(w, r, 0, err)
		return
	}
	s.respondJSON(w, r, http.StatusOK, stats)
}

func (s *Server) respondJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// respondError maps err to an HTTP status via its GatewayError Kind (overriding with
// forceStatus when non-zero, for method-not-allowed style checks that precede any domain
// call) and writes a JSON error body carrying traceId and ruleId.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, forceStatus int, err error) {
	tid, _ := r.Context().Value(traceIDKey{}).(string)
	ge, ok := err.(*errors.GatewayError)
	status := forceStatus
	ruleID := ""
	message := err.Error()
	if ok {
		if status == 0 {
			status = errors.StatusFor(ge.Kind)
		}
		ruleID = ge.RuleID
		message = ge.Message
	} else if status == 0 {
		status = http.StatusInternalServerError
	}
	s.respondJSON(w, r, status, map[string]interface{}{
		"error":   message,
		"ruleId":  ruleID,
		"traceId": tid,
	})
}
