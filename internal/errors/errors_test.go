package errors

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/arkilian/splitagg/pkg/types"
)

func TestPipelineError_Error(t *testing.T) {
	err := New(ErrCategoryStorage, CodeUploadFailed, "upload failed")
	expected := "[STORAGE:UPLOAD_FAILED] upload failed"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewIOError("append spill file", cause)
	expected := "[PROCESSING:IO_FAILED] append spill file: disk full"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := NewParseError("bad measure", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestPipelineError_Is(t *testing.T) {
	err1 := New(ErrCategoryProcessing, CodeParseFailed, "first")
	err2 := New(ErrCategoryProcessing, CodeParseFailed, "second")
	err3 := New(ErrCategoryProcessing, CodeIOFailed, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	wrapped := fmt.Errorf("partition: %w", err1)
	if !errors.Is(wrapped, err2) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeIOFailed, true},
		{ErrCategoryStorage, CodeTaskNotFound, false},
		{ErrCategoryQueue, CodeEnqueueFailed, true},
		{ErrCategoryProcessing, CodeIOFailed, false},
		{ErrCategoryProcessing, CodeParseFailed, false},
		{ErrCategoryValidation, CodeInvalidInput, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewParseError("bad row", nil)
	if GetCategory(err) != ErrCategoryProcessing {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryProcessing)
	}
	if GetCode(err) != CodeParseFailed {
		t.Errorf("got %q, want %q", GetCode(err), CodeParseFailed)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-PipelineError should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewParseError("bad measure", nil)
	detailed := err.WithDetails(map[string]interface{}{"line": 7})

	if detailed.Details["line"] != 7 {
		t.Error("WithDetails should set details")
	}
	// Original should be unmodified
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}

func TestReport(t *testing.T) {
	generic := types.FieldErrors{GenericField: {GenericMessage}}
	inputMissing := types.FieldErrors{"input_file": {"Cannot process a csv without the input file."}}
	processing := types.FieldErrors{"rows": {"too many"}}

	tests := []struct {
		name string
		err  error
		want types.FieldErrors
	}{
		{"nil", nil, nil},
		{"validation", NewValidationError(inputMissing), inputMissing},
		{"wrapped validation", fmt.Errorf("pipeline: %w", NewValidationError(inputMissing)), inputMissing},
		{"processing", NewProcessingError(processing, fmt.Errorf("boom")), processing},
		{"io", NewIOError("open input", fmt.Errorf("no such file")), generic},
		{"parse", NewParseError("bad measure", nil), generic},
		{"validation without fields", NewValidationError(nil), generic},
		{"plain", fmt.Errorf("plain"), generic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Report(tt.err)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Report() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReport_ReturnsCopy(t *testing.T) {
	fields := types.FieldErrors{"input_file": {"File format not supported."}}
	report := Report(NewValidationError(fields))
	report["input_file"][0] = "changed"
	if fields["input_file"][0] != "File format not supported." {
		t.Error("Report should not alias the error's fields")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	v := NewValidationError(types.FieldErrors{"input_file": {"x"}})
	if v.Category != ErrCategoryValidation || v.Code != CodeInvalidInput || !IsClassified(v) {
		t.Error("NewValidationError mismatch")
	}

	p := NewProcessingError(types.FieldErrors{"f": {"x"}}, cause)
	if p.Category != ErrCategoryProcessing || p.Code != CodeProcessingFailed || !errors.Is(p, cause) {
		t.Error("NewProcessingError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) || IsClassified(s) {
		t.Error("NewStorageError mismatch")
	}

	q := NewQueueError(CodeEnqueueFailed, "redis down", cause)
	if q.Category != ErrCategoryQueue || !q.Retryable {
		t.Error("NewQueueError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
