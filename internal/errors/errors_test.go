package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestStoreError_Error(t *testing.T) {
	err := New(ErrCategoryPrerequisite, CodeNoMatchingConfig, "no config for q1.sql")
	expected := "[PREREQUISITE:NO_MATCHING_CONFIG] no config for q1.sql"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestStoreError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("no such file")
	err := Wrap(ErrCategoryConfig, CodeExtensionMissing, "extension missing", cause)
	expected := "[CONFIG:EXTENSION_MISSING] extension missing: no such file"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryQuery, CodeExecutionFailed, "query failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestStoreError_Is(t *testing.T) {
	err1 := NewPrerequisiteError(CodeUnknownQuery, "first")
	err2 := NewPrerequisiteError(CodeUnknownQuery, "second")
	err3 := NewPrerequisiteError(CodeNoMatchingConfig, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err1), ErrUnknownQuery) {
		t.Error("wrapped error should match the sentinel")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeDownloadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryConfig, CodeExtensionMissing, false},
		{ErrCategoryPrerequisite, CodeNoMatchingConfig, false},
		{ErrCategoryQuery, CodeTemplateFailed, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(NewConfigError(CodeSchemaFailed, "bad ddl", nil)) {
		t.Error("config errors should be fatal")
	}
	if IsFatal(NewPrerequisiteError(CodeUnknownQuery, "q")) {
		t.Error("prerequisite errors should not be fatal")
	}
	if IsFatal(fmt.Errorf("plain error")) {
		t.Error("plain errors should not be fatal")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := NewValidationError(CodeInvalidRatio, "ratio 1.5")
	if GetCategory(err) != ErrCategoryValidation {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryValidation)
	}
	if GetCode(err) != CodeInvalidRatio {
		t.Errorf("got %q, want %q", GetCode(err), CodeInvalidRatio)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" || GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("non-StoreError should return empty category and code")
	}
}

func TestWithDetails(t *testing.T) {
	err := NewPrerequisiteError(CodeNoMatchingConfig, "missing config")
	detailed := err.WithDetails(map[string]interface{}{"query": "tpch/q1.sql"})

	if detailed.Details["query"] != "tpch/q1.sql" {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
}
