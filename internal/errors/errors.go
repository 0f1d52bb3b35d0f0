// Package errors defines structured error types shared by the vault and
// canvas layers. Codes are stable snake_case strings so front ends can
// branch on them without parsing messages.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeNotFound is returned when a file or resource is missing.
	CodeNotFound Code = "not_found"
	// CodeAlreadyExists is returned when a resource collides with an existing one.
	CodeAlreadyExists Code = "already_exists"
	// CodePermissionDenied is returned when the filesystem refuses access.
	CodePermissionDenied Code = "permission_denied"
	// CodeIO is returned for other filesystem failures.
	CodeIO Code = "io_error"

	// CodeInvalidJSON is returned when a document fails to parse.
	CodeInvalidJSON Code = "invalid_json"
	// CodeInvalidFormat is returned when parsed data has the wrong shape.
	CodeInvalidFormat Code = "invalid_format"
	// CodeMigrationFailed is returned when a format migration cannot complete.
	CodeMigrationFailed Code = "migration_failed"

	// CodeVaultNotFound is returned when a path holds no vault.json.
	CodeVaultNotFound Code = "vault_not_found"
	// CodeVaultAlreadyExists is returned when creating over an existing vault.
	CodeVaultAlreadyExists Code = "vault_already_exists"
	// CodeInvalidVault is returned when vault.json is unreadable.
	CodeInvalidVault Code = "invalid_vault"

	// CodeCanvasNotFound is returned when a named canvas does not exist.
	CodeCanvasNotFound Code = "canvas_not_found"
	// CodeCanvasAlreadyExists is returned when a canvas name collides.
	CodeCanvasAlreadyExists Code = "canvas_already_exists"
	// CodeInvalidCanvas is returned when canvas metadata is unreadable.
	CodeInvalidCanvas Code = "invalid_canvas"

	// CodeStateSaveFailed is returned when UI state cannot be persisted.
	CodeStateSaveFailed Code = "state_save_failed"

	// CodeUnknown is the fallback for unclassified failures.
	CodeUnknown Code = "unknown"
)

// Error is a coded error with optional context and a wrapped cause.
type Error struct {
	code    Code
	message string
	context map[string]any
	wrapped error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// WithContext attaches a key/value pair for debugging.
func (e *Error) WithContext(key string, value any) *Error {
	if e.context == nil {
		e.context = make(map[string]any)
	}
	e.context[key] = value
	return e
}

// Wrap records an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Context returns the attached debug context, which may be nil.
func (e *Error) Context() map[string]any {
	return e.context
}

// Unwrap returns the wrapped cause if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// CodeOf extracts the code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return CodeUnknown
}

// Convenience constructors for common cases.

// NotFound reports a missing resource.
func NotFound(resource string) *Error {
	return Newf(CodeNotFound, "%s not found", resource)
}

// AlreadyExists reports a name collision.
func AlreadyExists(resource string) *Error {
	return Newf(CodeAlreadyExists, "%s already exists", resource)
}

// VaultNotFound reports a path with no vault.
func VaultNotFound(path string) *Error {
	return Newf(CodeVaultNotFound, "vault not found at %s", path).WithContext("path", path)
}

// CanvasNotFound reports a missing canvas.
func CanvasNotFound(name string) *Error {
	return Newf(CodeCanvasNotFound, "canvas %q not found", name).WithContext("name", name)
}

// CanvasAlreadyExists reports a canvas name collision.
func CanvasAlreadyExists(name string) *Error {
	return Newf(CodeCanvasAlreadyExists, "canvas %q already exists", name).WithContext("name", name)
}

// InvalidJSON wraps a JSON parse failure.
func InvalidJSON(path string, err error) *Error {
	return Newf(CodeInvalidJSON, "failed to parse %s", path).WithContext("path", path).Wrap(err)
}

// MigrationFailed wraps a migration failure.
func MigrationFailed(subject string, err error) *Error {
	return Newf(CodeMigrationFailed, "failed to migrate %s", subject).Wrap(err)
}

// IO wraps a filesystem failure.
func IO(op string, err error) *Error {
	return Newf(CodeIO, "%s failed", op).Wrap(err)
}
