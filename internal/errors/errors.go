package errors

import (
	stderrors "errors"
	"fmt"
)

// RagError is the structured error type for ragcore.
type RagError struct {
	// Code is the unique error code (e.g., "ERR_403_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrInvalidQuery         = &RagError{Code: ErrCodeInvalidQuery}
	ErrEmbeddingUnavailable = &RagError{Code: ErrCodeEmbeddingUnavailable}
	ErrMalformedConstraint  = &RagError{Code: ErrCodeMalformedConstraint}
	ErrEmptyCorpus          = &RagError{Code: ErrCodeEmptyCorpus}
	ErrStoreLocked          = &RagError{Code: ErrCodeStoreLocked}
)

func (e *RagError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RagError) Unwrap() error {
	return e.Cause
}

// Is matches another *RagError by code so errors.Is works against the
// package sentinels.
func (e *RagError) Is(target error) bool {
	if t, ok := target.(*RagError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *RagError) WithDetail(key, value string) *RagError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets the user hint and returns the error for chaining.
func (e *RagError) WithSuggestion(suggestion string) *RagError {
	e.Suggestion = suggestion
	return e
}

// New creates a RagError. Category, severity and the retryable flag are
// derived from the code.
func New(code string, message string, cause error) *RagError {
	return &RagError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RagError from an existing error, reusing its message.
func Wrap(code string, err error) *RagError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidQuery reports an empty or whitespace-only query.
func InvalidQuery(reason string) *RagError {
	return New(ErrCodeInvalidQuery, reason, nil).
		WithSuggestion("Provide a non-empty query string")
}

// EmbeddingUnavailable reports a failed query embedding. Search recovers by
// scoring the dense signal as zero.
func EmbeddingUnavailable(cause error) *RagError {
	msg := "query embedding unavailable"
	if cause != nil {
		msg = fmt.Sprintf("query embedding unavailable: %v", cause)
	}
	return New(ErrCodeEmbeddingUnavailable, msg, cause).
		WithSuggestion("Check that the embedding service is running (ollama serve)")
}

// MalformedConstraint reports a numeric comparison in the query that could
// not be resolved to a value and unit.
func MalformedConstraint(fragment string) *RagError {
	return New(ErrCodeMalformedConstraint, "unresolvable numeric constraint", nil).
		WithDetail("fragment", fragment)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *RagError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a chunk-store error.
func StoreError(message string, cause error) *RagError {
	return New(ErrCodeStoreFailed, message, cause)
}

// ValidationError creates an input validation error.
func ValidationError(message string, cause error) *RagError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *RagError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first *RagError in err's chain.
func As(err error) (*RagError, bool) {
	var re *RagError
	if stderrors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func IsRetryable(err error) bool {
	if re, ok := As(err); ok {
		return re.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if re, ok := As(err); ok {
		return re.Severity == SeverityFatal
	}
	return false
}

// IsRecovered reports whether the search pipeline degrades around err
// rather than returning it.
func IsRecovered(err error) bool {
	if re, ok := As(err); ok {
		return isRecoveredCode(re.Code)
	}
	return false
}

// GetCode returns the code of the first RagError in the chain, or "".
func GetCode(err error) string {
	if re, ok := As(err); ok {
		return re.Code
	}
	return ""
}
