package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecallError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping it as an unavailable error
	err := UnavailableError("lexical search failed", originalErr)

	// Then: the original stays reachable through the chain
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestRecallError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeChunkParams,
			message:  "overlap must be smaller than min",
			expected: "[ERR_103_CHUNK_PARAMS] overlap must be smaller than min",
		},
		{
			name:     "filter error",
			code:     ErrCodeInvalidFilter,
			message:  "bad date",
			expected: "[ERR_402_INVALID_FILTER] bad date",
		},
		{
			name:     "unavailable",
			code:     ErrCodeRetrievalUnavailable,
			message:  "datastore down",
			expected: "[ERR_301_RETRIEVAL_UNAVAILABLE] datastore down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestRecallError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeEmptyQuery, "query is empty", nil)
	err2 := New(ErrCodeEmptyQuery, "question is empty", nil)
	err3 := New(ErrCodeInvalidFilter, "bad filter", nil)

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeChunkParams, CategoryConfig, SeverityFatal, false},
		{ErrCodeFusionWeights, CategoryConfig, SeverityFatal, false},
		{ErrCodeStoreWrite, CategoryStorage, SeverityError, false},
		{ErrCodeLocked, CategoryStorage, SeverityWarning, true},
		{ErrCodeRetrievalUnavailable, CategoryUnavailable, SeverityWarning, true},
		{ErrCodeCapabilityUnavailable, CategoryUnavailable, SeverityWarning, true},
		{ErrCodeInvalidFilter, CategoryInput, SeverityError, false},
		{ErrCodeEmptyQuery, CategoryInput, SeverityError, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{"BAD", CategoryInternal, SeverityError, false},
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

func TestHelpers_SeeThroughWrapping(t *testing.T) {
	// Given: a coded error wrapped with fmt.Errorf
	base := FilterError("from", "yesterday", nil)
	wrapped := fmt.Errorf("retrieve: %w", base)

	// Then: helpers find it in the chain
	assert.True(t, IsInput(wrapped))
	assert.False(t, IsUnavailable(wrapped))
	assert.False(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeInvalidFilter, GetCode(wrapped))
	assert.Equal(t, CategoryInput, GetCategory(wrapped))
	assert.Equal(t, "from", base.Details["filter"])

	unavailable := fmt.Errorf("engine: %w", UnavailableError("down", nil))
	assert.True(t, IsUnavailable(unavailable))
	assert.True(t, IsRetryable(unavailable))
}

func TestHelpers_PlainErrors(t *testing.T) {
	plain := errors.New("plain")

	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.False(t, IsInput(plain))
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestConfigError_IsFatal(t *testing.T) {
	err := ConfigError("bad weights", nil)
	assert.True(t, IsFatal(err))
}
