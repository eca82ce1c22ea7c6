// Package errors provides the structured error system used across the storage gateway:
// a single GatewayError type carrying one of eight error kinds, an HTTP status, and the
// per-request traceId that ties it back to a log line or audit record.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind is one of the eight error kinds the gateway surfaces (spec §7).
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindAuth             Kind = "AUTH"
	KindNotFound         Kind = "NOT_FOUND"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindConflict         Kind = "CONFLICT"
	KindAdapterIO        Kind = "ADAPTER_IO"
	KindTimeout          Kind = "TIMEOUT"
	KindInternal         Kind = "INTERNAL"
)

// httpStatus maps each Kind to its response status.
var httpStatus = map[Kind]int{
	KindValidation:       400,
	KindAuth:             401,
	KindNotFound:         404,
	KindPermissionDenied: 403,
	KindConflict:         409,
	KindAdapterIO:        502,
	KindTimeout:          504,
	KindInternal:         500,
}

// retryable marks which kinds a caller may retry (used by pkg/retry at process boundaries;
// per-operation adapter/proxy retries are forbidden regardless of this flag).
var retryable = map[Kind]bool{
	KindAdapterIO: true,
	KindTimeout:   true,
	KindInternal:  false,
}

// GatewayError is a structured error with context and metadata, returned by every
// component (C1-C8) instead of ad-hoc fmt.Errorf values.
type GatewayError struct {
	Kind    Kind                   `json:"kind"`
	RuleID  string                 `json:"ruleId,omitempty"` // e.g. FILE_TOO_LARGE, INVALID_PATH
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
	UserID    string `json:"userId,omitempty"`

	Retryable  bool `json:"retryable"`
	HTTPStatus int  `json:"httpStatus,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error for errors.Is/As compatibility.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error's Kind.
func (e *GatewayError) Is(target error) bool {
	if other, ok := target.(*GatewayError); ok {
		return e.Kind == other.Kind
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *GatewayError) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Kind=%s", e.Kind))
	if e.RuleID != "" {
		parts = append(parts, fmt.Sprintf("RuleID=%s", e.RuleID))
	}
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.TraceID != "" {
		parts = append(parts, fmt.Sprintf("TraceID=%s", e.TraceID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("GatewayError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string, suitable for an HTTP error body.
func (e *GatewayError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates a new GatewayError with defaults derived from kind.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{
		Kind:       kind,
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  retryable[kind],
		HTTPStatus: StatusFor(kind),
	}
}

// Validation builds a VALIDATION error carrying the failed rule id, per spec §4.4's
// per-rule failure codes (e.g. FILE_TOO_LARGE, EMPTY_NAME, INVALID_PATH).
func Validation(ruleID, message string) *GatewayError {
	e := New(KindValidation, message)
	e.RuleID = ruleID
	return e
}

// StatusFor returns the HTTP status associated with a Kind.
func StatusFor(kind Kind) int {
	if s, ok := httpStatus[kind]; ok {
		return s
	}
	return 500
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error.
func (e *GatewayError) WithContext(key, value string) *GatewayError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error.
func (e *GatewayError) WithDetail(key string, value interface{}) *GatewayError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component that raised the error (e.g. "storage.object", "proxy.postgres").
func (e *GatewayError) WithComponent(component string) *GatewayError {
	e.Component = component
	return e
}

// WithOperation sets the operation in progress when the error occurred.
func (e *GatewayError) WithOperation(operation string) *GatewayError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *GatewayError) WithCause(cause error) *GatewayError {
	e.Cause = cause
	return e
}

// WithTraceID attaches the per-request traceId (spec §6/§7: every error carries one).
func (e *GatewayError) WithTraceID(traceID string) *GatewayError {
	e.TraceID = traceID
	return e
}

// WithStack captures the current stack trace.
func (e *GatewayError) WithStack() *GatewayError {
	e.Stack = CaptureStack(2)
	return e
}

// As reports whether err is (or wraps) a *GatewayError of the given kind.
func As(err error, kind Kind) bool {
	var ge *GatewayError
	return stderrors.As(err, &ge) && ge.Kind == kind
}
