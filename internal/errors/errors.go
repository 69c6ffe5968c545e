// Package errors provides structured error types for the splitagg pipeline.
// Every error carries a category, code, message and retryable flag. Errors
// that reach a task record additionally carry field-level messages.
package errors

import (
	"errors"
	"fmt"

	"github.com/arkilian/splitagg/pkg/types"
)

// ErrorCategory classifies errors by pipeline component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryProcessing ErrorCategory = "PROCESSING"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryQueue      ErrorCategory = "QUEUE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidInput = "INVALID_INPUT"

	// Processing codes
	CodeProcessingFailed = "PROCESSING_FAILED"
	CodeIOFailed         = "IO_FAILED"
	CodeParseFailed      = "PARSE_FAILED"

	// Storage codes
	CodeTaskNotFound = "TASK_NOT_FOUND"
	CodeUploadFailed = "UPLOAD_FAILED"

	// Queue codes
	CodeEnqueueFailed = "ENQUEUE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// GenericField and GenericMessage form the task report for unclassified errors.
const (
	GenericField   = "error"
	GenericMessage = "Something went wrong while processing the csv file."
)

// PipelineError is the structured error type used throughout the system.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Fields    types.FieldErrors
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Report maps an error to the field errors stored on a failed task.
// Validation and processing errors report their own fields; anything else
// collapses to the generic message so internals never reach the client.
func Report(err error) types.FieldErrors {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) && isReported(pe.Category) && len(pe.Fields) > 0 {
		return pe.Fields.Clone()
	}
	return types.FieldErrors{GenericField: {GenericMessage}}
}

// IsClassified reports whether err carries its own task report.
func IsClassified(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && isReported(pe.Category) && len(pe.Fields) > 0
}

func isReported(category ErrorCategory) bool {
	return category == ErrCategoryValidation || category == ErrCategoryProcessing
}

// isRetryable marks transient storage and queue I/O as retryable.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeIOFailed:
		return true
	case category == ErrCategoryQueue && code == CodeEnqueueFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

// NewValidationError reports invalid task input with field-level messages.
func NewValidationError(fields types.FieldErrors) *PipelineError {
	e := New(ErrCategoryValidation, CodeInvalidInput, "invalid task input")
	e.Fields = fields
	return e
}

// NewProcessingError reports a domain failure with field-level messages.
func NewProcessingError(fields types.FieldErrors, cause error) *PipelineError {
	e := Wrap(ErrCategoryProcessing, CodeProcessingFailed, "processing failed", cause)
	e.Fields = fields
	return e
}

func NewIOError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryProcessing, CodeIOFailed, message, cause)
}

func NewParseError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryProcessing, CodeParseFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewQueueError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryQueue, code, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
