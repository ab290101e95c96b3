package errors

import (
	"fmt"
)

// NoteError is the structured error type for notelink.
// It provides context for error handling, logging, and user presentation.
type NoteError struct {
	// Code is the unique error code (e.g., "ERR_301_BACKEND_UNREACHABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Connectivity, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *NoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NoteError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *NoteError) Is(target error) bool {
	if t, ok := target.(*NoteError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *NoteError) WithDetail(key, value string) *NoteError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new NoteError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *NoteError {
	return &NoteError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a NoteError from an existing error.
// The error's message becomes the NoteError message.
func Wrap(code string, err error) *NoteError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error (fatal, no retry).
func ConfigError(message string, cause error) *NoteError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ConnectivityError creates a remote-backend reachability error.
func ConnectivityError(message string, cause error) *NoteError {
	return New(ErrCodeBackendUnreachable, message, cause)
}

// ModelLoadError creates a model load error.
func ModelLoadError(message string, cause error) *NoteError {
	return New(ErrCodeModelLoad, message, cause)
}

// EmbedError creates a runtime embedding error scoped to one call.
func EmbedError(message string, cause error) *NoteError {
	return New(ErrCodeEmbedRuntime, message, cause)
}

// StorageError creates a persistence error.
func StorageError(code, message string, cause error) *NoteError {
	return New(code, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(*NoteError); ok {
		return ne.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(*NoteError); ok {
		return ne.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a NoteError.
// Returns empty string if not a NoteError.
func GetCode(err error) string {
	if ne, ok := err.(*NoteError); ok {
		return ne.Code
	}
	return ""
}

// GetCategory extracts the category from a NoteError.
// Returns empty string if not a NoteError.
func GetCategory(err error) Category {
	if ne, ok := err.(*NoteError); ok {
		return ne.Category
	}
	return ""
}
