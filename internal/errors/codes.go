// Package errors provides structured error handling for recall.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors (fatal at startup, never retried)
//   - 2XX: Storage errors
//   - 3XX: Unavailable dependencies (datastore, embedding or LLM endpoints)
//   - 4XX: Client input errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates datastore write and lookup errors.
	CategoryStorage Category = "STORAGE"
	// CategoryUnavailable indicates a dependency could not be reached.
	CategoryUnavailable Category = "UNAVAILABLE"
	// CategoryInput indicates the caller sent something malformed.
	CategoryInput Category = "INPUT"
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
	ErrCodeChunkParams    = "ERR_103_CHUNK_PARAMS"
	ErrCodeFusionWeights  = "ERR_104_FUSION_WEIGHTS"

	// Storage errors (200-299)
	ErrCodeStoreOpen        = "ERR_201_STORE_OPEN"
	ErrCodeStoreWrite       = "ERR_202_STORE_WRITE"
	ErrCodeDocumentNotFound = "ERR_203_DOCUMENT_NOT_FOUND"
	ErrCodeLocked           = "ERR_204_LOCKED"

	// Unavailable errors (300-399)
	ErrCodeRetrievalUnavailable  = "ERR_301_RETRIEVAL_UNAVAILABLE"
	ErrCodeCapabilityUnavailable = "ERR_302_CAPABILITY_UNAVAILABLE"
	ErrCodeRateLimited           = "ERR_303_RATE_LIMITED"

	// Input errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidFilter     = "ERR_402_INVALID_FILTER"
	ErrCodeUnknownFilter     = "ERR_403_UNKNOWN_FILTER"
	ErrCodeEmptyQuery        = "ERR_404_EMPTY_QUERY"
	ErrCodeDimensionMismatch = "ERR_405_DIMENSION_MISMATCH"
	ErrCodeInvalidMode       = "ERR_406_INVALID_MODE"

	// Internal errors (500-599)
	ErrCodeInternal            = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed     = "ERR_502_EMBEDDING_FAILED"
	ErrCodeDecompositionFailed = "ERR_503_DECOMPOSITION_FAILED"
	ErrCodeSynthesisFailed     = "ERR_504_SYNTHESIS_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_301_..." -> '3'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryUnavailable
	case '4':
		return CategoryInput
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if categoryFromCode(code) == CategoryConfig {
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a caller may retry after backing off.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRetrievalUnavailable, ErrCodeCapabilityUnavailable, ErrCodeRateLimited, ErrCodeLocked:
		return true
	default:
		return false
	}
}
