// Package errors provides structured error types for the rewriting engine.
// All errors include a category, code, message, and retryable flag so callers
// can tell a malformed input from an unreachable privacy property without
// parsing messages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryInput    ErrorCategory = "INPUT"
	ErrCategoryQuery    ErrorCategory = "QUERY"
	ErrCategorySchema   ErrorCategory = "SCHEMA"
	ErrCategoryPrivacy  ErrorCategory = "PRIVACY"
	ErrCategoryBudget   ErrorCategory = "BUDGET"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Input codes
	CodeMalformedInput = "MALFORMED_INPUT"
	CodeMissingKey     = "MISSING_KEY"

	// Query codes
	CodeParseError          = "PARSE_ERROR"
	CodeUnresolvedReference = "UNRESOLVED_REFERENCE"
	CodeUnsupportedSyntax   = "UNSUPPORTED_SYNTAX"

	// Schema codes
	CodeFieldNotFound      = "FIELD_NOT_FOUND"
	CodeTypeMismatch       = "TYPE_MISMATCH"
	CodeDuplicateName      = "DUPLICATE_NAME"
	CodeSchemaMismatch     = "SCHEMA_MISMATCH"
	CodeIncompatibleSchema = "INCOMPATIBLE_SCHEMA"

	// Privacy codes
	CodeIncompatibleUnit       = "INCOMPATIBLE_UNIT"
	CodeInvalidPrivacyUnitSpec = "INVALID_PRIVACY_UNIT_SPEC"
	CodeUnreachableProperty    = "UNREACHABLE_PROPERTY"

	// Budget codes
	CodeInsufficientBudget = "INSUFFICIENT_BUDGET"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels usable as errors.Is targets. Matching is by category and code.
var (
	ErrMalformedInput         = New(ErrCategoryInput, CodeMalformedInput, "malformed input")
	ErrMissingKey             = New(ErrCategoryInput, CodeMissingKey, "missing key")
	ErrParse                  = New(ErrCategoryQuery, CodeParseError, "parse error")
	ErrUnresolvedReference    = New(ErrCategoryQuery, CodeUnresolvedReference, "unresolved reference")
	ErrUnsupportedSyntax      = New(ErrCategoryQuery, CodeUnsupportedSyntax, "unsupported syntax")
	ErrFieldNotFound          = New(ErrCategorySchema, CodeFieldNotFound, "field not found")
	ErrTypeMismatch           = New(ErrCategorySchema, CodeTypeMismatch, "type mismatch")
	ErrDuplicateName          = New(ErrCategorySchema, CodeDuplicateName, "duplicate name")
	ErrSchemaMismatch         = New(ErrCategorySchema, CodeSchemaMismatch, "schema mismatch")
	ErrIncompatibleSchema     = New(ErrCategorySchema, CodeIncompatibleSchema, "incompatible schema")
	ErrIncompatibleUnit       = New(ErrCategoryPrivacy, CodeIncompatibleUnit, "incompatible privacy unit")
	ErrInvalidPrivacyUnitSpec = New(ErrCategoryPrivacy, CodeInvalidPrivacyUnitSpec, "invalid privacy unit")
	ErrUnreachableProperty    = New(ErrCategoryPrivacy, CodeUnreachableProperty, "unreachable property")
	ErrInsufficientBudget     = New(ErrCategoryBudget, CodeInsufficientBudget, "insufficient budget")
	ErrObjectNotFound         = New(ErrCategoryStorage, CodeObjectNotFound, "object not found")
)

// EngineError is the structured error type used throughout the system.
type EngineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new EngineError.
func New(category ErrorCategory, code, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf is New with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...interface{}) *EngineError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new EngineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *EngineError {
	return &EngineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *EngineError) WithDetails(details map[string]interface{}) *EngineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
// For UNREACHABLE_PROPERTY this means the caller may retry with the Soft strategy.
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCategory(err error) ErrorCategory {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an EngineError.
func GetCode(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryPrivacy && code == CodeUnreachableProperty:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewMalformedInput(message string, cause error) *EngineError {
	return Wrap(ErrCategoryInput, CodeMalformedInput, message, cause)
}

func NewMissingKey(key string) *EngineError {
	return Newf(ErrCategoryInput, CodeMissingKey, "Missing %s key", key)
}

func NewFieldNotFound(name string) *EngineError {
	return Newf(ErrCategorySchema, CodeFieldNotFound, "field %q not found", name).
		WithDetails(map[string]interface{}{"field": name})
}

func NewTypeMismatch(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategorySchema, CodeTypeMismatch, format, args...)
}

func NewDuplicateName(name string) *EngineError {
	return Newf(ErrCategorySchema, CodeDuplicateName, "name %q already exists", name).
		WithDetails(map[string]interface{}{"field": name})
}

func NewSchemaMismatch(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategorySchema, CodeSchemaMismatch, format, args...)
}

func NewIncompatibleSchema(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategorySchema, CodeIncompatibleSchema, format, args...)
}

func NewUnresolvedReference(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategoryQuery, CodeUnresolvedReference, format, args...)
}

func NewUnsupported(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategoryQuery, CodeUnsupportedSyntax, format, args...)
}

func NewParseError(cause error) *EngineError {
	return Wrap(ErrCategoryQuery, CodeParseError, "cannot parse query", cause)
}

func NewIncompatibleUnit(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategoryPrivacy, CodeIncompatibleUnit, format, args...)
}

func NewInvalidPrivacyUnit(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategoryPrivacy, CodeInvalidPrivacyUnitSpec, format, args...)
}

func NewUnreachable(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategoryPrivacy, CodeUnreachableProperty, format, args...)
}

func NewInsufficientBudget(format string, args ...interface{}) *EngineError {
	return Newf(ErrCategoryBudget, CodeInsufficientBudget, format, args...)
}

func NewStorageError(code, message string, cause error) *EngineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *EngineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
