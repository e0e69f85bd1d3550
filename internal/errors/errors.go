// Package errors provides structured error types for the Chalkline engine.
// All errors include a category, code, message, and retryable flag so the
// scheduler loops can make retry decisions without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by subsystem.
type ErrorCategory string

const (
	ErrCategoryCompliance ErrorCategory = "COMPLIANCE"
	ErrCategoryStore      ErrorCategory = "STORE"
	ErrCategorySync       ErrorCategory = "SYNC"
	ErrCategoryRetention  ErrorCategory = "RETENTION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Compliance codes. Violations are never retried and never carry the
	// offending value, only the field name and pattern class.
	CodePIIPattern     = "PII_PATTERN"
	CodeIdentifyingKey = "IDENTIFYING_KEY"
	CodeValueTooLong   = "VALUE_TOO_LONG"
	CodeConsentRevoked = "CONSENT_REVOKED"

	// Store codes
	CodeAppendFailed      = "APPEND_FAILED"
	CodeMissingProvenance = "MISSING_PROVENANCE"
	CodeQueryFailed       = "QUERY_FAILED"

	// Sync codes
	CodeTransientUpload = "TRANSIENT_UPLOAD"
	CodePermanentReject = "PERMANENT_REJECT"
	CodeOffline         = "OFFLINE"

	// Retention codes
	CodeSweepFailed = "SWEEP_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the engine.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a structured Error.
func GetCategory(err error) ErrorCategory {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable. Only transient sync
// failures and store append contention qualify; compliance violations and
// permanent rejections never do.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategorySync && code == CodeTransientUpload:
		return true
	case category == ErrCategorySync && code == CodeOffline:
		return true
	case category == ErrCategoryStore && code == CodeAppendFailed:
		return true
	default:
		return false
	}
}

// NewComplianceViolation builds the violation returned when sanitization
// rejects a record. field and pattern identify what tripped; the matched
// value is deliberately absent so it cannot re-leak through logs.
func NewComplianceViolation(code, field, pattern string) *Error {
	e := New(ErrCategoryCompliance, code, fmt.Sprintf("field %q rejected", field))
	e.Details = map[string]interface{}{
		"field":   field,
		"pattern": pattern,
	}
	return e
}

// IsComplianceViolation reports whether the error is a compliance rejection.
func IsComplianceViolation(err error) bool {
	return GetCategory(err) == ErrCategoryCompliance
}

// ViolationField extracts the rejected field name, if present.
func ViolationField(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Details != nil {
		if f, ok := ce.Details["field"].(string); ok {
			return f
		}
	}
	return ""
}

// ViolationPattern extracts the pattern class that tripped, if present.
func ViolationPattern(err error) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Details != nil {
		if p, ok := ce.Details["pattern"].(string); ok {
			return p
		}
	}
	return ""
}

// Convenience constructors for common errors.

func NewStoreError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStore, code, message, cause)
}

func NewSyncError(code, message string, cause error) *Error {
	return Wrap(ErrCategorySync, code, message, cause)
}

func NewRetentionError(message string, cause error) *Error {
	return Wrap(ErrCategoryRetention, CodeSweepFailed, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
