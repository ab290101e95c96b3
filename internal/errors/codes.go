// Package errors provides structured error handling for notelink.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (fatal, no retry)
//   - 2XX: Storage errors (degrade, never crash)
//   - 3XX: Connectivity errors (recoverable, surfaced to caller)
//   - 4XX: Validation errors
//   - 5XX: Model load and runtime embedding errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates persistence read/write errors.
	CategoryStorage Category = "STORAGE"
	// CategoryConnectivity indicates remote backend reachability errors.
	CategoryConnectivity Category = "CONNECTIVITY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryEmbedding indicates model load and embedding runtime errors.
	CategoryEmbedding Category = "EMBEDDING"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeModelInvalid   = "ERR_103_MODEL_INVALID"

	// Storage errors (200-299)
	ErrCodeSnapshotRead    = "ERR_201_SNAPSHOT_READ"
	ErrCodeSnapshotWrite   = "ERR_202_SNAPSHOT_WRITE"
	ErrCodeHashMapRead     = "ERR_203_HASHMAP_READ"
	ErrCodeHashMapWrite    = "ERR_204_HASHMAP_WRITE"
	ErrCodeMetadataStorage = "ERR_205_METADATA_STORAGE"

	// Connectivity errors (300-399)
	ErrCodeBackendUnreachable = "ERR_301_BACKEND_UNREACHABLE"
	ErrCodeBackendTimeout     = "ERR_302_BACKEND_TIMEOUT"
	ErrCodeBackendStatus      = "ERR_303_BACKEND_STATUS"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidPath       = "ERR_403_INVALID_PATH"

	// Embedding errors (500-599)
	ErrCodeModelLoad     = "ERR_501_MODEL_LOAD"
	ErrCodeEmbedRuntime  = "ERR_502_EMBED_RUNTIME"
	ErrCodeProviderState = "ERR_503_PROVIDER_STATE"
	ErrCodeIndexFailed   = "ERR_504_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryEmbedding
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryConnectivity
	case '4':
		return CategoryValidation
	default:
		return CategoryEmbedding
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigNotFound, ErrCodeConfigInvalid, ErrCodeModelInvalid:
		// Configuration errors are fatal: surfaced immediately, no retry.
		return SeverityFatal
	case ErrCodeSnapshotRead, ErrCodeHashMapRead:
		// Load failures degrade to a fresh store rather than crashing.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendUnreachable, ErrCodeBackendTimeout, ErrCodeEmbedRuntime:
		return true
	default:
		return false
	}
}
