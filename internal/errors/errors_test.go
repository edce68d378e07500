package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCgrepError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an original error
	original := stderrors.New("permission denied")

	// When: wrapping it as an IoError
	err := IOError("src/a.rs", original)

	// Then: the chain still reaches the cause
	assert.Equal(t, original, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, original))
	assert.Equal(t, "src/a.rs", err.Details["path"])
}

func TestCgrepError_Is_MatchesSentinelsThroughWrapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"index required", IndexRequiredError("semantic"), ErrIndexRequired},
		{"schema mismatch", SchemaMismatchError(1, 2), ErrSchemaMismatch},
		{"provider", ProviderError("command", nil), ErrProvider},
		{"parse", ParseError("a.rs", "rust", nil), ErrParse},
		{"io", IOError("a.rs", nil), ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, Is(wrapped, tt.sentinel))
			assert.False(t, Is(wrapped, otherSentinel("ERR_999_OTHER")))
		})
	}
}

// otherSentinel builds a throwaway sentinel for negative matches.
func otherSentinel(code string) error {
	return &CgrepError{Code: code}
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeIndexRequired, CategoryConfig, SeverityFatal, false},
		{ErrCodeGitRequired, CategoryConfig, SeverityError, false},
		{ErrCodeIO, CategoryIO, SeverityWarning, false},
		{ErrCodeProviderUnavailable, CategoryProvider, SeverityWarning, true},
		{ErrCodeParseFailed, CategoryValidation, SeverityWarning, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestGetCode_FindsCodeInChain(t *testing.T) {
	err := fmt.Errorf("search: %w", IndexRequiredError("semantic"))
	assert.Equal(t, ErrCodeIndexRequired, GetCode(err))
	assert.True(t, IsFatal(err))
	assert.Empty(t, GetCode(stderrors.New("plain")))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	out := FormatForCLI(IndexRequiredError("semantic"))
	assert.Contains(t, out, "semantic search requires an index")
	assert.Contains(t, out, "Hint: Run 'cgrep index' first")
	assert.Contains(t, out, ErrCodeIndexRequired)
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(stderrors.New("boom"))
	require.NoError(t, err)

	var payload map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, ErrCodeInternal, payload["error"]["code"])
	assert.Equal(t, "boom", payload["error"]["message"])
}

func TestRetryWithResult_StopsOnNonRetryable(t *testing.T) {
	// Given: a function failing with a non-retryable error
	calls := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	// When: retrying
	_, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, ValidationError("bad", nil)
	})

	// Then: only one attempt is made
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithResult_RetriesRetryable(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, ProviderError("command", nil)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	// Given: a breaker with a controllable clock
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("command",
		WithMaxFailures(2),
		WithResetTimeout(time.Minute),
		WithClock(func() time.Time { return now }))
	failing := func() error { return stderrors.New("down") }

	// When: failing twice
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	// Then: the circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())
	ran := false
	err := cb.Execute(func() error { ran = true; return nil })
	assert.False(t, ran)
	assert.Equal(t, ErrCodeProviderCircuitOpen, GetCode(err))

	// And: after the reset timeout a successful trial closes it
	now = now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
