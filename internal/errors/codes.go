// Package errors provides structured error handling for cgrep.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and precondition errors
//   - 2XX: IO errors (file, disk, on-disk index)
//   - 3XX: Embedding provider errors
//   - 4XX: Validation and parse errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration or missing-precondition errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, disk and on-disk index errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates embedding provider failures.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation and parse errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
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
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeIndexRequired  = "ERR_104_INDEX_REQUIRED"
	ErrCodeGitRequired    = "ERR_105_GIT_REQUIRED"

	// IO errors (200-299)
	ErrCodeIO             = "ERR_201_IO"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeIndexLocked    = "ERR_203_INDEX_LOCKED"
	ErrCodeSchemaMismatch = "ERR_205_SCHEMA_MISMATCH"
	ErrCodeCorruptIndex   = "ERR_206_CORRUPT_INDEX"

	// Provider errors (300-399)
	ErrCodeProviderUnavailable = "ERR_301_PROVIDER_UNAVAILABLE"
	ErrCodeProviderOutput      = "ERR_302_PROVIDER_OUTPUT"
	ErrCodeProviderCircuitOpen = "ERR_303_PROVIDER_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidMode       = "ERR_403_INVALID_MODE"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeInvalidPattern    = "ERR_406_INVALID_PATTERN"
	ErrCodeParseFailed       = "ERR_407_PARSE_FAILED"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed     = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexRequired, ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeIO, ErrCodeParseFailed, ErrCodeSchemaMismatch:
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
	case ErrCodeProviderUnavailable, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
