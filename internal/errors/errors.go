package errors

import (
	"errors"
	"fmt"
)

// RecallError is the structured error type for recall.
// It carries enough context for callers to tell a bad request apart from an
// unreachable datastore, and for the CLI and MCP layers to render it.
type RecallError struct {
	// Code is the unique error code (e.g., "ERR_402_INVALID_FILTER").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the code.
	Category Category

	// Severity is derived from the code.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates the caller may retry with backoff.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *RecallError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RecallError) Unwrap() error {
	return e.Cause
}

// Is matches another RecallError by code.
func (e *RecallError) Is(target error) bool {
	if t, ok := target.(*RecallError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *RecallError) WithDetail(key, value string) *RecallError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *RecallError) WithSuggestion(suggestion string) *RecallError {
	e.Suggestion = suggestion
	return e
}

// New creates a new RecallError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RecallError {
	return &RecallError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RecallError from an existing error.
func Wrap(code string, err error) *RecallError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error.
func ConfigError(message string, cause error) *RecallError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InputError creates a client input error.
func InputError(message string, cause error) *RecallError {
	return New(ErrCodeInvalidInput, message, cause)
}

// FilterError reports a malformed filter value, naming the offending key.
func FilterError(key, value string, cause error) *RecallError {
	return New(ErrCodeInvalidFilter, fmt.Sprintf("invalid value %q for filter %q", value, key), cause).
		WithDetail("filter", key)
}

// UnavailableError reports that the datastore or an index could not serve a read.
// It is distinct from an empty result.
func UnavailableError(message string, cause error) *RecallError {
	return New(ErrCodeRetrievalUnavailable, message, cause).
		WithSuggestion("retry with backoff; check that the datastore is reachable")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RecallError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first RecallError in err's chain.
func as(err error) (*RecallError, bool) {
	var re *RecallError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	re, ok := as(err)
	return ok && re.Retryable
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	re, ok := as(err)
	return ok && re.Severity == SeverityFatal
}

// IsInput reports whether err is a client input error.
func IsInput(err error) bool {
	re, ok := as(err)
	return ok && re.Category == CategoryInput
}

// IsUnavailable reports whether err signals an unreachable dependency.
func IsUnavailable(err error) bool {
	re, ok := as(err)
	return ok && re.Category == CategoryUnavailable
}

// GetCode extracts the error code from the chain.
// Returns empty string if no RecallError is present.
func GetCode(err error) string {
	if re, ok := as(err); ok {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from the chain.
func GetCategory(err error) Category {
	if re, ok := as(err); ok {
		return re.Category
	}
	return ""
}
