package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Configuration errors
	ErrCodeConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Caller errors
	ErrCodeInvalidSession   ErrorCode = "INVALID_SESSION"
	ErrCodeSessionExists    ErrorCode = "SESSION_EXISTS"
	ErrCodeSessionNotFound  ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeIdentityMismatch ErrorCode = "IDENTITY_MISMATCH"
	ErrCodeInvalidURL       ErrorCode = "INVALID_URL"

	// Policy denials
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeBanned           ErrorCode = "BANNED"
	ErrCodePolicyDenied     ErrorCode = "POLICY_DENIED"
	ErrCodeBackgroundCaller ErrorCode = "BACKGROUND_CALLER"

	// Boundary errors
	ErrCodeCallbackFailed   ErrorCode = "CALLBACK_FAILED"
	ErrCodeDaemonNotRunning ErrorCode = "DAEMON_NOT_RUNNING"

	// General errors
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// TabsError represents a structured error with context
type TabsError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *TabsError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *TabsError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *TabsError) WithDetail(key string, value interface{}) *TabsError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *TabsError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// HTTPStatus maps the error code to the status the daemon API answers with.
func (e *TabsError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidSession, ErrCodeInvalidURL, ErrCodeInvalidInput, ErrCodeSessionExists:
		return http.StatusBadRequest
	case ErrCodeSessionNotFound:
		return http.StatusNotFound
	case ErrCodeIdentityMismatch, ErrCodePermissionDenied, ErrCodeBackgroundCaller, ErrCodeBanned:
		return http.StatusForbidden
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodePolicyDenied:
		return http.StatusConflict
	case ErrCodeDaemonNotRunning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new TabsError
func New(code ErrorCode, message string) *TabsError {
	return &TabsError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a TabsError
func Wrap(err error, code ErrorCode, message string) *TabsError {
	return &TabsError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific TabsError code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	tabsErr, ok := err.(*TabsError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	return tabsErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	tabsErr, ok := err.(*TabsError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return tabsErr.Code
}
