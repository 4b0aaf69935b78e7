package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeConfig          = "CONFIG_ERROR"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeEval            = "EVAL_ERROR"
	ErrCodeState           = "STATE_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeStore           = "STORE_ERROR"
	ErrCodeDivisionByZero  = "DIVISION_BY_ZERO"
	ErrCodeUnknownVariable = "UNKNOWN_VARIABLE"
	ErrCodeUnknownEnum     = "UNKNOWN_ENUM_VALUE"
	ErrCodeCycleDetected   = "CYCLE_DETECTED"
)

// EstimateError is the structured error type for all engine operations.
type EstimateError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EstimateError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EstimateError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EstimateError.
func NewError(code, message string) *EstimateError {
	return &EstimateError{Code: code, Message: message}
}

// NewErrorf creates a new EstimateError with a formatted message.
func NewErrorf(code, format string, args ...any) *EstimateError {
	return &EstimateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *EstimateError) WithNode(nodeID string) *EstimateError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *EstimateError) WithCause(err error) *EstimateError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EstimateError) WithDetails(details map[string]any) *EstimateError {
	e.Details = details
	return e
}

// CodeOf returns the error code if err is an EstimateError, "" otherwise.
func CodeOf(err error) string {
	if ee, ok := err.(*EstimateError); ok {
		return ee.Code
	}
	return ""
}
