package validator

import (
	"strings"
	"testing"

	"github.com/familyhub/gateway/pkg/errors"
	"github.com/familyhub/gateway/pkg/types"
)

func newTestValidator() *Validator {
	return New(types.StorageConfig{
		MaxFileSize:       1024,
		AllowedExtensions: []string{"txt", "pdf"},
		AllowedMimeTypes:  []string{"text/plain"},
	})
}

func validRequest() *types.FileUploadRequest {
	return &types.FileUploadRequest{
		FamilyID:         "fam123",
		UploaderUserID:   "user1",
		OriginalFileName: "report.txt",
		FolderPath:       "/docs",
		Visibility:       types.VisibilityPrivate,
		ContentTypeHint:  "text/plain",
		FileSize:         10,
		Payload:          strings.NewReader("0123456789"),
	}
}

func validRC() types.RequestContext {
	return types.RequestContext{UserID: "user1", FamilyIDs: []string{"fam123"}}
}

func ruleID(t *testing.T, err error) string {
	t.Helper()
	ge, ok := err.(*errors.GatewayError)
	if !ok {
		t.Fatalf("error is not *errors.GatewayError: %v", err)
	}
	return ge.RuleID
}

func TestCheckUpload_Valid(t *testing.T) {
	v := newTestValidator()
	if err := v.CheckUpload(validRC(), validRequest()); err != nil {
		t.Fatalf("CheckUpload() = %v, want nil", err)
	}
}

func TestCheckUpload_AuthRequired(t *testing.T) {
	v := newTestValidator()
	err := v.CheckUpload(types.RequestContext{}, validRequest())
	if err == nil || ruleID(t, err) != "AUTH_REQUIRED" {
		t.Errorf("CheckUpload() = %v, want AUTH_REQUIRED", err)
	}
}

func TestCheckUpload_IdentityMismatch(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.UploaderUserID = "someone-else"
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "IDENTITY_MISMATCH" {
		t.Errorf("CheckUpload() = %v, want IDENTITY_MISMATCH", err)
	}
}

func TestCheckUpload_InvalidFamily(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.FamilyID = "ab"
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "INVALID_FAMILY" {
		t.Errorf("CheckUpload() = %v, want INVALID_FAMILY", err)
	}
}

func TestCheckUpload_EmptyFile(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.Payload = nil
	req.FileSize = 0
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "EMPTY_FILE" {
		t.Errorf("CheckUpload() = %v, want EMPTY_FILE", err)
	}
}

func TestCheckUpload_FileTooLarge(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.FileSize = 10000
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "FILE_TOO_LARGE" {
		t.Errorf("CheckUpload() = %v, want FILE_TOO_LARGE", err)
	}
}

func TestCheckUpload_EmptyName(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.OriginalFileName = ""
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "EMPTY_NAME" {
		t.Errorf("CheckUpload() = %v, want EMPTY_NAME", err)
	}
}

func TestCheckUpload_UnsupportedType(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.OriginalFileName = "virus.exe"
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "UNSUPPORTED_TYPE" {
		t.Errorf("CheckUpload() = %v, want UNSUPPORTED_TYPE", err)
	}
}

func TestCheckUpload_UnsupportedMime(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.ContentTypeHint = "application/x-evil"
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "UNSUPPORTED_MIME" {
		t.Errorf("CheckUpload() = %v, want UNSUPPORTED_MIME", err)
	}
}

func TestCheckUpload_InvalidVisibility(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.Visibility = types.Visibility("EVERYONE")
	err := v.CheckUpload(validRC(), req)
	if err == nil || ruleID(t, err) != "INVALID_VISIBILITY" {
		t.Errorf("CheckUpload() = %v, want INVALID_VISIBILITY", err)
	}
}

func TestCheckUpload_FolderPathRules(t *testing.T) {
	v := newTestValidator()
	cases := []string{"docs", "/../etc", "/a\\b", "/" + strings.Repeat("x", 260)}
	for _, path := range cases {
		req := validRequest()
		req.FolderPath = path
		err := v.CheckUpload(validRC(), req)
		if err == nil || ruleID(t, err) != "INVALID_PATH" {
			t.Errorf("CheckUpload(folderPath=%q) = %v, want INVALID_PATH", path, err)
		}
	}
}

func TestCheckUploadResult_MirrorsCheckUpload(t *testing.T) {
	v := newTestValidator()
	req := validRequest()
	req.OriginalFileName = ""

	ok, msg := v.CheckUploadResult(validRC(), req)
	if ok {
		t.Fatal("CheckUploadResult() ok = true, want false")
	}
	if msg == "" {
		t.Error("CheckUploadResult() message is empty")
	}

	ok, _ = v.CheckUploadResult(validRC(), validRequest())
	if !ok {
		t.Error("CheckUploadResult() ok = false for a valid request")
	}
}

func TestCheckDownload(t *testing.T) {
	v := newTestValidator()

	if err := v.CheckDownload(validRC(), "file1", "fam123"); err != nil {
		t.Errorf("CheckDownload() = %v, want nil", err)
	}
	if err := v.CheckDownload(types.RequestContext{}, "file1", "fam123"); err == nil || ruleID(t, err) != "AUTH_REQUIRED" {
		t.Errorf("CheckDownload() with no identity = %v, want AUTH_REQUIRED", err)
	}
	if err := v.CheckDownload(validRC(), "", "fam123"); err == nil || ruleID(t, err) != "EMPTY_FILE" {
		t.Errorf("CheckDownload() with no fileId = %v, want EMPTY_FILE", err)
	}
}
