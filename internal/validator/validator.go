// Package validator implements the File Validator (C4): one ordered rule chain, invoked in
// both a throwing mode (for the orchestrator) and a result-returning mode (for adapter-level
// re-checks), per the "Validator consolidation" decision in DESIGN.md.
package validator

import (
	"strings"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

// forbiddenPathChars are disallowed anywhere in a folderPath.
const forbiddenPathChars = `\:*?"<>|`

// Validator enforces the upload/download admission rules against a single StorageConfig.
type Validator struct {
	maxFileSize int64
	extensions  map[string]struct{}
	mimeTypes   map[string]struct{}
}

// New builds a Validator from the active storage configuration's size/extension/MIME limits.
func New(cfg types.StorageConfig) *Validator {
	v := &Validator{
		maxFileSize: cfg.MaxFileSize,
		extensions:  make(map[string]struct{}, len(cfg.AllowedExtensions)),
		mimeTypes:   make(map[string]struct{}, len(cfg.AllowedMimeTypes)),
	}
	for _, ext := range cfg.AllowedExtensions {
		v.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, mt := range cfg.AllowedMimeTypes {
		v.mimeTypes[strings.ToLower(mt)] = struct{}{}
	}
	return v
}

// CheckUpload runs the full ordered rule chain and returns the first failing rule as a
// *errors.GatewayError, or nil if the request is admissible.
func (v *Validator) CheckUpload(rc types.RequestContext, req *types.FileUploadRequest) error {
	if err := v.firstFailure(rc, req); err != nil {
		return err
	}
	return nil
}

// CheckUploadResult runs the same ordered rule chain as CheckUpload but never returns an
// error value — it reports (ok, message) for callers that re-check at the adapter boundary
// and want to handle failure inline rather than via error propagation.
func (v *Validator) CheckUploadResult(rc types.RequestContext, req *types.FileUploadRequest) (bool, string) {
	if err := v.firstFailure(rc, req); err != nil {
		ge, ok := err.(*errors.GatewayError)
		if !ok {
			return false, err.Error()
		}
		return false, ge.Message
	}
	return true, ""
}

// firstFailure applies every rule, in spec order, returning the first violation.
func (v *Validator) firstFailure(rc types.RequestContext, req *types.FileUploadRequest) error {
	if rc.UserID == "" {
		return errors.Validation("AUTH_REQUIRED", "request carries no authenticated identity")
	}
	if req.UploaderUserID != rc.UserID {
		return errors.Validation("IDENTITY_MISMATCH", "uploaderUserId does not match the authenticated user")
	}
	if req.FamilyID != "" && (len(req.FamilyID) < 3 || len(req.FamilyID) > 50) {
		return errors.Validation("INVALID_FAMILY", "familyId must be between 3 and 50 characters")
	}
	if req.Payload == nil || req.FileSize <= 0 {
		return errors.Validation("EMPTY_FILE", "file payload is missing or empty")
	}
	if v.maxFileSize > 0 && req.FileSize > v.maxFileSize {
		return errors.Validation("FILE_TOO_LARGE", "file exceeds the configured maximum size")
	}
	if req.OriginalFileName == "" {
		return errors.Validation("EMPTY_NAME", "file name is required")
	}
	if !v.extensionAllowed(req.OriginalFileName) {
		return errors.Validation("UNSUPPORTED_TYPE", "file extension is not in the allowed list")
	}
	if req.ContentTypeHint != "" && !v.mimeAllowed(req.ContentTypeHint) {
		return errors.Validation("UNSUPPORTED_MIME", "declared content-type is not in the allowed list")
	}
	if req.Visibility != "" && !req.Visibility.Valid() {
		return errors.Validation("INVALID_VISIBILITY", "visibility must be one of PRIVATE, FAMILY, PUBLIC")
	}
	if req.FolderPath != "" {
		if err := validateFolderPath(req.FolderPath); err != nil {
			return err
		}
	}
	return nil
}

// CheckDownload applies the lighter download permission precheck: identity present, family
// format valid if given, fileId non-empty. Deeper per-file authorization (ownership,
// visibility) is the orchestrator's concern (C7), not the Validator's.
func (v *Validator) CheckDownload(rc types.RequestContext, fileID, familyID string) error {
	if rc.UserID == "" {
		return errors.Validation("AUTH_REQUIRED", "request carries no authenticated identity")
	}
	if familyID != "" && (len(familyID) < 3 || len(familyID) > 50) {
		return errors.Validation("INVALID_FAMILY", "familyId must be between 3 and 50 characters")
	}
	if fileID == "" {
		return errors.Validation("EMPTY_FILE", "fileId is required")
	}
	return nil
}

func (v *Validator) extensionAllowed(name string) bool {
	ext := extensionOf(name)
	if ext == "" {
		return false
	}
	_, ok := v.extensions[ext]
	return ok
}

func (v *Validator) mimeAllowed(mime string) bool {
	_, ok := v.mimeTypes[strings.ToLower(mime)]
	return ok
}

func extensionOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// validateFolderPath enforces the hard traversal/shape guard shared with the Storage Adapter's
// own sanitization (defense in depth, per spec §4.1's "hard guard regardless of earlier
// validation").
func validateFolderPath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return errors.Validation("INVALID_PATH", "folderPath must begin with /")
	}
	if len(path) > 255 {
		return errors.Validation("INVALID_PATH", "folderPath exceeds 255 characters")
	}
	if strings.Contains(path, "..") {
		return errors.Validation("INVALID_PATH", "folderPath may not contain ..")
	}
	if strings.ContainsAny(path, forbiddenPathChars) {
		return errors.Validation("INVALID_PATH", "folderPath contains a forbidden character")
	}
	return nil
}
