// Package errors provides the coded error taxonomy used across ragcore.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Corpus and store I/O errors
//   - 3XX: Embedding service (network) errors
//   - 4XX: Query and input validation errors
//   - 5XX: Internal and degraded-pipeline errors
//
// Only ERR_403_INVALID_QUERY is ever returned from a search. The other
// search-time codes describe conditions the pipeline recovers from and
// reports through diagnostics.
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the current command.
	SeverityFatal Severity = "FATAL"
	// SeverityError fails the current operation.
	SeverityError Severity = "ERROR"
	// SeverityWarning marks a degraded but completed operation.
	SeverityWarning Severity = "WARNING"
)

const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Corpus / store errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorpusInvalid = "ERR_202_CORPUS_INVALID"
	ErrCodeStoreLocked   = "ERR_203_STORE_LOCKED"
	ErrCodeStoreCorrupt  = "ERR_204_STORE_CORRUPT"

	// Embedding service errors (300-399)
	ErrCodeEmbedderTimeout     = "ERR_301_EMBEDDER_TIMEOUT"
	ErrCodeEmbedderUnreachable = "ERR_302_EMBEDDER_UNREACHABLE"
	ErrCodeModelPull           = "ERR_303_MODEL_PULL"

	// Validation errors (400-499)
	ErrCodeInvalidInput        = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch   = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeInvalidQuery        = "ERR_403_INVALID_QUERY"
	ErrCodeMalformedConstraint = "ERR_404_MALFORMED_CONSTRAINT"
	ErrCodeEmptyCorpus         = "ERR_405_EMPTY_CORPUS"

	// Internal errors (500-599)
	ErrCodeInternal             = "ERR_501_INTERNAL"
	ErrCodeStoreFailed          = "ERR_502_STORE_FAILED"
	ErrCodeSearchFailed         = "ERR_503_SEARCH_FAILED"
	ErrCodeEmbeddingUnavailable = "ERR_504_EMBEDDING_UNAVAILABLE"
)

// categoryFromCode reads the category digit of "ERR_NXX_...".
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
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeMalformedConstraint, ErrCodeEmptyCorpus, ErrCodeEmbeddingUnavailable:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedderTimeout, ErrCodeEmbedderUnreachable, ErrCodeModelPull, ErrCodeStoreLocked:
		return true
	default:
		return false
	}
}

// isRecoveredCode reports codes the search pipeline degrades around instead
// of surfacing to the caller.
func isRecoveredCode(code string) bool {
	switch code {
	case ErrCodeMalformedConstraint, ErrCodeEmptyCorpus, ErrCodeEmbeddingUnavailable:
		return true
	default:
		return false
	}
}
