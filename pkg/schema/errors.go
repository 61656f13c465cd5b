package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"

	// Expression resolution.
	ErrCodeUnknownRoot    = "UNKNOWN_ROOT"
	ErrCodePattern        = "PATTERN_ERROR"
	ErrCodeMissingContext = "MISSING_CONTEXT"
	ErrCodeQuery          = "QUERY_ERROR"
	ErrCodeExpression     = "EXPRESSION_ERROR"

	// Step execution.
	ErrCodeOperationNotFound = "OPERATION_NOT_FOUND"
	ErrCodeTransport         = "TRANSPORT_ERROR"
	ErrCodeCriteriaNotMet    = "CRITERIA_NOT_MET"
	ErrCodeUnsupportedAction = "UNSUPPORTED_ACTION"
	ErrCodeStepLimit         = "STEP_LIMIT_EXCEEDED"
)

// WrkfloError is the structured error type for all wrkflo operations.
type WrkfloError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WrkfloError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WrkfloError) Unwrap() error {
	return e.Cause
}

// Is matches another *WrkfloError by code, so errors.Is(err, schema.NewError(code, ""))
// works as a code check.
func (e *WrkfloError) Is(target error) bool {
	t, ok := target.(*WrkfloError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new WrkfloError.
func NewError(code, message string) *WrkfloError {
	return &WrkfloError{Code: code, Message: message}
}

// NewErrorf creates a new WrkfloError with a formatted message.
func NewErrorf(code, format string, args ...any) *WrkfloError {
	return &WrkfloError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *WrkfloError) WithStep(stepID string) *WrkfloError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *WrkfloError) WithCause(err error) *WrkfloError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WrkfloError) WithDetails(details map[string]any) *WrkfloError {
	e.Details = details
	return e
}

// CodeOf returns the code of the outermost WrkfloError in err's chain, or "" if none.
func CodeOf(err error) string {
	var werr *WrkfloError
	if errors.As(err, &werr) {
		return werr.Code
	}
	return ""
}

// HasCode reports whether any WrkfloError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if werr, ok := err.(*WrkfloError); ok && werr.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// CodeOrDefault returns CodeOf(err), or def when err carries no code.
func CodeOrDefault(err error, def string) string {
	if code := CodeOf(err); code != "" {
		return code
	}
	return def
}
