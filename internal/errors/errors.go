package errors

import (
	stderrors "errors"
	"fmt"
)

// CgrepError is the structured error type for cgrep.
// It carries enough context for logging, CLI rendering and agent payloads.
type CgrepError struct {
	// Code is the unique error code (e.g., "ERR_104_INDEX_REQUIRED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CgrepError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CgrepError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so sentinels such as ErrIndexRequired work with errors.Is.
func (e *CgrepError) Is(target error) bool {
	if t, ok := target.(*CgrepError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *CgrepError) WithDetail(key, value string) *CgrepError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *CgrepError) WithSuggestion(suggestion string) *CgrepError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CgrepError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CgrepError {
	return &CgrepError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CgrepError from an existing error.
func Wrap(code string, err error) *CgrepError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrIndexRequired  = &CgrepError{Code: ErrCodeIndexRequired}
	ErrSchemaMismatch = &CgrepError{Code: ErrCodeSchemaMismatch}
	ErrProvider       = &CgrepError{Code: ErrCodeProviderUnavailable}
	ErrParse          = &CgrepError{Code: ErrCodeParseFailed}
	ErrIO             = &CgrepError{Code: ErrCodeIO}
	ErrIndexLocked    = &CgrepError{Code: ErrCodeIndexLocked}
)

// IOError reports an unreadable file or path. Callers skip and continue.
func IOError(path string, cause error) *CgrepError {
	return New(ErrCodeIO, fmt.Sprintf("cannot read %s", path), cause).
		WithDetail("path", path)
}

// ParseError reports malformed source for a language. The file is still
// indexed for full-text search.
func ParseError(path, language string, cause error) *CgrepError {
	return New(ErrCodeParseFailed, fmt.Sprintf("failed to parse %s as %s", path, language), cause).
		WithDetail("path", path).
		WithDetail("language", language)
}

// ProviderError reports an unavailable or misbehaving embedding backend.
func ProviderError(provider string, cause error) *CgrepError {
	return New(ErrCodeProviderUnavailable, fmt.Sprintf("embedding provider %q unavailable", provider), cause).
		WithDetail("provider", provider)
}

// IndexRequiredError is returned when a mode without a scan fallback is used
// before the index exists.
func IndexRequiredError(mode string) *CgrepError {
	return New(ErrCodeIndexRequired, fmt.Sprintf("%s search requires an index", mode), nil).
		WithDetail("mode", mode).
		WithSuggestion("Run 'cgrep index' first")
}

// SchemaMismatchError reports an on-disk index written by an incompatible
// engine version. The index is rebuilt from scratch.
func SchemaMismatchError(found, want int) *CgrepError {
	return New(ErrCodeSchemaMismatch,
		fmt.Sprintf("index schema version %d does not match engine version %d", found, want), nil).
		WithDetail("found", fmt.Sprint(found)).
		WithDetail("want", fmt.Sprint(want))
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CgrepError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *CgrepError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CgrepError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if any CgrepError in the chain is retryable.
func IsRetryable(err error) bool {
	var ce *CgrepError
	if stderrors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ce *CgrepError
	if stderrors.As(err, &ce) {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first CgrepError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ce *CgrepError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Is reports whether err matches target. It re-exports the standard library
// helper so callers need a single errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As re-exports the standard library helper.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
