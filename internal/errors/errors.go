// Package errors provides structured error types for the AutoSteer result store.
// Every error carries a category, a code and a message so callers can branch on
// the taxonomy (environment, prerequisite, consistency, query) without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of failure.
type ErrorCategory string

const (
	// ErrCategoryConfig covers missing extension artifacts, unreachable database
	// paths and schema failures. These are fatal at store-open time.
	ErrCategoryConfig       ErrorCategory = "CONFIG"
	ErrCategoryValidation   ErrorCategory = "VALIDATION"
	ErrCategoryPrerequisite ErrorCategory = "PREREQUISITE"
	ErrCategoryConsistency  ErrorCategory = "CONSISTENCY"
	ErrCategoryQuery        ErrorCategory = "QUERY"
	ErrCategoryStorage      ErrorCategory = "STORAGE"
	ErrCategoryInternal     ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeExtensionMissing    = "EXTENSION_MISSING"
	CodeDatabaseUnreachable = "DATABASE_UNREACHABLE"
	CodeSchemaFailed        = "SCHEMA_FAILED"
	CodeInvalidConfig       = "INVALID_CONFIG"

	// Validation codes
	CodeInvalidPlan  = "INVALID_PLAN"
	CodeInvalidRatio = "INVALID_RATIO"
	CodeEmptyName    = "EMPTY_NAME"

	// Prerequisite codes
	CodeUnknownBenchmark = "UNKNOWN_BENCHMARK"
	CodeUnknownQuery     = "UNKNOWN_QUERY"
	CodeNoMatchingConfig = "NO_MATCHING_CONFIG"

	// Consistency codes
	CodeFingerprintMismatch = "FINGERPRINT_MISMATCH"

	// Query codes
	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeTemplateFailed  = "TEMPLATE_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// StoreError is the structured error type used throughout the system.
type StoreError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new StoreError.
func New(category ErrorCategory, code, message string) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new StoreError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *StoreError {
	return &StoreError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *StoreError) WithDetails(details map[string]interface{}) *StoreError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsFatal reports whether the error belongs to the configuration/environment
// category, which must stop the process rather than let it run degraded.
func IsFatal(err error) bool {
	return GetCategory(err) == ErrCategoryConfig
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a StoreError.
func GetCategory(err error) ErrorCategory {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a StoreError.
func GetCode(err error) string {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Sentinels for errors.Is comparisons; only category and code are compared.
var (
	ErrExtensionMissing    = New(ErrCategoryConfig, CodeExtensionMissing, "median extension missing")
	ErrUnknownBenchmark    = New(ErrCategoryPrerequisite, CodeUnknownBenchmark, "unknown benchmark")
	ErrUnknownQuery        = New(ErrCategoryPrerequisite, CodeUnknownQuery, "unknown query")
	ErrNoMatchingConfig    = New(ErrCategoryPrerequisite, CodeNoMatchingConfig, "no matching configuration")
	ErrInvalidPlan         = New(ErrCategoryValidation, CodeInvalidPlan, "invalid query plan")
	ErrInvalidRatio        = New(ErrCategoryValidation, CodeInvalidRatio, "invalid training ratio")
	ErrFingerprintMismatch = New(ErrCategoryConsistency, CodeFingerprintMismatch, "result fingerprint mismatch")
	ErrObjectNotFound      = New(ErrCategoryStorage, CodeObjectNotFound, "object not found")
)

// Convenience constructors for common errors.

func NewConfigError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryConfig, code, message, cause)
}

func NewValidationError(code, message string) *StoreError {
	return New(ErrCategoryValidation, code, message)
}

func NewPrerequisiteError(code, message string) *StoreError {
	return New(ErrCategoryPrerequisite, code, message)
}

func NewQueryError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryQuery, code, message, cause)
}

func NewStorageError(code, message string, cause error) *StoreError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *StoreError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
