// Package errors provides the classified error taxonomy for the match endpoint.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeBadRequest  ErrorCode = "BAD_REQUEST"
	ErrCodeBotDetected ErrorCode = "BOT_DETECTED"
	ErrCodeThrottled   ErrorCode = "THROTTLED"

	ErrCodeUpstreamAuth            ErrorCode = "UPSTREAM_AUTH"
	ErrCodeUpstreamUnavailable     ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamTimeout         ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeMalformedUpstreamOutput ErrorCode = "MALFORMED_UPSTREAM_OUTPUT"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// DefaultRetryAfter is advertised when an upstream quota error carries no hint.
const DefaultRetryAfter = 60 * time.Second

// StandardError represents a structured application error.
// Details is for server-side logs only and is never written to a response.
type StandardError struct {
	Code       ErrorCode     `json:"code"`
	Message    string        `json:"message"`
	Details    string        `json:"details,omitempty"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any *StandardError carrying the same code, so callers can use
// errors.Is(err, &StandardError{Code: ErrCodeUpstreamTimeout}).
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *StandardError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// ==========================
// 2. Error Constructors
// ==========================

// NewBadRequestError creates a non-retryable client input error.
func NewBadRequestError(message, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBadRequest,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBotDetectedError creates the silent honeypot rejection.
func NewBotDetectedError() *StandardError {
	return &StandardError{
		Code:      ErrCodeBotDetected,
		Message:   "Invalid request",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewThrottledError creates a retry-later error for cooldown or upstream quota.
func NewThrottledError(details string, retryAfter time.Duration) *StandardError {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &StandardError{
		Code:       ErrCodeThrottled,
		Message:    "Too many requests",
		Details:    details,
		Retryable:  true,
		RetryAfter: retryAfter,
		Timestamp:  time.Now().UTC(),
	}
}

// NewUpstreamAuthError creates a non-retryable credential rejection.
func NewUpstreamAuthError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamAuth,
		Message:   "Ranking service rejected credentials",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamUnavailableError creates a generic upstream fault.
func NewUpstreamUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamUnavailable,
		Message:   "Ranking service unavailable",
		Details:   errDetails(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamTimeoutError creates the ranking timeout error.
func NewUpstreamTimeoutError(limit time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamTimeout,
		Message:   "Ranking service timeout",
		Details:   fmt.Sprintf("call exceeded %s", limit),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedOutputError creates the internal-only parse failure.
func NewMalformedOutputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedUpstreamOutput,
		Message:   "Ranking output could not be parsed",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps anything unexpected, including repository failures.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   errDetails(err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 3. Conversion to HTTP
// ==========================

// HTTPStatusMapping maps internal error codes to response status codes.
var HTTPStatusMapping = map[ErrorCode]int{
	ErrCodeBadRequest:              http.StatusBadRequest,
	ErrCodeBotDetected:             http.StatusForbidden,
	ErrCodeThrottled:               http.StatusTooManyRequests,
	ErrCodeUpstreamAuth:            http.StatusUnauthorized,
	ErrCodeUpstreamTimeout:         http.StatusGatewayTimeout,
	ErrCodeUpstreamUnavailable:     http.StatusInternalServerError,
	ErrCodeMalformedUpstreamOutput: http.StatusInternalServerError,
	ErrCodeInternal:                http.StatusInternalServerError,
}

// publicMessages never include upstream or database text.
var publicMessages = map[ErrorCode]string{
	ErrCodeBadRequest:              "Invalid request payload",
	ErrCodeBotDetected:             "Invalid request",
	ErrCodeThrottled:               "Too many requests. Please wait before trying again.",
	ErrCodeUpstreamAuth:            "AI matching service is misconfigured. Please contact support.",
	ErrCodeUpstreamTimeout:         "AI matching took too long to respond. Please try again.",
	ErrCodeUpstreamUnavailable:     "AI matching service is temporarily unavailable. Please try again later.",
	ErrCodeMalformedUpstreamOutput: "AI matching service is temporarily unavailable. Please try again later.",
	ErrCodeInternal:                "An unexpected error occurred. Please try again later.",
}

// HTTPStatus returns the response status for a code; unknown codes are 500.
func HTTPStatus(code ErrorCode) int {
	if status, ok := HTTPStatusMapping[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the caller-facing text for a code.
func PublicMessage(code ErrorCode) string {
	if msg, ok := publicMessages[code]; ok {
		return msg
	}
	return publicMessages[ErrCodeInternal]
}

// ExternalCode collapses internal-only codes into what callers may observe.
func ExternalCode(code ErrorCode) ErrorCode {
	if code == ErrCodeMalformedUpstreamOutput {
		return ErrCodeUpstreamUnavailable
	}
	if _, ok := HTTPStatusMapping[code]; !ok {
		return ErrCodeInternal
	}
	return code
}

// ==========================
// 4. Utility Functions
// ==========================

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// CodeOf returns the code carried by err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Normalize(err).Code
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "UPSTREAM") || strings.HasPrefix(codeStr, "MALFORMED"):
		return "UPSTREAM"
	case code == ErrCodeBadRequest || code == ErrCodeBotDetected || code == ErrCodeThrottled:
		return "GUARD"
	default:
		return "INTERNAL"
	}
}
