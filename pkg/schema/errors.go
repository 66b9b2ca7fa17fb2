package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUnsupportedChartType = "UNSUPPORTED_CHART_TYPE"
	ErrCodeSchemaValidation     = "SCHEMA_VALIDATION_FAILED"
	ErrCodeUpstreamModel        = "UPSTREAM_MODEL_ERROR"
	ErrCodeUpstreamTimeout      = "UPSTREAM_TIMEOUT"
	ErrCodeRenderFailed         = "RENDER_FAILED"
	ErrCodeRetryExhausted       = "RETRY_EXHAUSTED"
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeChartNotFound        = "CHART_NOT_FOUND"
	ErrCodeVersionOutOfRange    = "VERSION_OUT_OF_RANGE"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeStore                = "STORE_ERROR"
)

// Error is the structured error type for all chartforge operations.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	ChartID string         `json:"chart_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.ChartID != "" {
		return fmt.Sprintf("[%s] chart %s: %s", e.Code, e.ChartID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithChart attaches a chart ID to the error.
func (e *Error) WithChart(chartID string) *Error {
	e.ChartID = chartID
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// IsTerminal reports whether the error code must never be retried.
func (e *Error) IsTerminal() bool {
	switch e.Code {
	case ErrCodeInvalidRequest, ErrCodeUnsupportedChartType, ErrCodeSchemaValidation,
		ErrCodeSessionNotFound, ErrCodeChartNotFound, ErrCodeVersionOutOfRange,
		ErrCodeInvalidTransition:
		return true
	}
	return false
}
