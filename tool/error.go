package tool

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ErrorCodeInvalidInput is returned when a call's input fails validation.
	ErrorCodeInvalidInput = "INVALID_INPUT"
	// ErrorCodeNotFound is returned when a referenced record does not exist.
	ErrorCodeNotFound = "NOT_FOUND"
	// ErrorCodeUnauthorized is returned when supplied credentials do not match.
	ErrorCodeUnauthorized = "UNAUTHORIZED"
	// ErrorCodeTimeout is returned when an invocation exceeds its deadline.
	ErrorCodeTimeout = "TIMEOUT"
	// ErrorCodeUpstreamFailure is returned when a backing service fails.
	ErrorCodeUpstreamFailure = "UPSTREAM_FAILURE"
	// ErrorCodeUnavailable is returned when a tool's backing dependency is not configured.
	ErrorCodeUnavailable = "UNAVAILABLE"
	// ErrorCodeInvocationFailed is a generic fallback for handler failures.
	ErrorCodeInvocationFailed = "INVOCATION_FAILED"
)

// ToolError is a structured handler error. Its message and details are
// recorded verbatim in the invocation ledger and surfaced to API callers.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return ErrorCodeInvocationFailed
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError creates a ToolError. An empty code defaults to INVOCATION_FAILED
// and an empty message defaults to the cause's message.
func NewError(code, message string, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = ErrorCodeInvocationFailed
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:    cleanCode,
		Message: cleanMsg,
		Cause:   cause,
	}
}

// WithDetails merges details into the error and returns it.
func (e *ToolError) WithDetails(details map[string]any) *ToolError {
	if e == nil || len(details) == 0 {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		e.Details[key] = value
	}
	return e
}

// AsToolError extracts a ToolError from err's chain.
func AsToolError(err error) (*ToolError, bool) {
	if err == nil {
		return nil, false
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) && toolErr != nil {
		return toolErr, true
	}
	return nil, false
}

// ErrorCode returns the ToolError code in err's chain, or "" when there is none.
func ErrorCode(err error) string {
	if toolErr, ok := AsToolError(err); ok {
		return toolErr.Code
	}
	return ""
}

// Describe returns the code, message and details to record for a handler
// error. Plain errors yield their Error() text and no details.
func Describe(err error) (code, message string, details map[string]any) {
	if err == nil {
		return "", "", nil
	}
	if toolErr, ok := AsToolError(err); ok {
		message = toolErr.Message
		if message == "" {
			message = toolErr.Error()
		}
		return toolErr.Code, message, toolErr.Details
	}
	return "", err.Error(), nil
}
