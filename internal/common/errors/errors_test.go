package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	msgs   []string
	fields []map[string]interface{}
}

func (c *captureLogger) Error(msg string, fields map[string]interface{}) {
	c.msgs = append(c.msgs, msg)
	c.fields = append(c.fields, fields)
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"bad request", NewBadRequestError("bad", ""), http.StatusBadRequest},
		{"bot", NewBotDetectedError(), http.StatusForbidden},
		{"throttled", NewThrottledError("", 10*time.Second), http.StatusTooManyRequests},
		{"auth", NewUpstreamAuthError("401"), http.StatusUnauthorized},
		{"timeout", NewUpstreamTimeoutError(25 * time.Second), http.StatusGatewayTimeout},
		{"unavailable", NewUpstreamUnavailableError(fmt.Errorf("502")), http.StatusInternalServerError},
		{"malformed", NewMalformedOutputError("not json"), http.StatusInternalServerError},
		{"internal", NewInternalError(fmt.Errorf("boom")), http.StatusInternalServerError},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := ExternalCode(CodeOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(code))
		})
	}
}

func TestExternalCode_HidesMalformedOutput(t *testing.T) {
	assert.Equal(t, ErrCodeUpstreamUnavailable, ExternalCode(ErrCodeMalformedUpstreamOutput))
	assert.Equal(t, ErrCodeInternal, ExternalCode(ErrorCode("SOMETHING_ELSE")))
	assert.Equal(t, PublicMessage(ErrCodeUpstreamUnavailable), PublicMessage(ErrCodeMalformedUpstreamOutput))
}

func TestStandardError_IsAndWrap(t *testing.T) {
	err := fmt.Errorf("rank: %w", NewUpstreamTimeoutError(time.Second))

	assert.True(t, stderrors.Is(err, &StandardError{Code: ErrCodeUpstreamTimeout}))
	assert.False(t, stderrors.Is(err, &StandardError{Code: ErrCodeUpstreamAuth}))
	assert.Equal(t, ErrCodeUpstreamTimeout, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestThrottled_RetryAfter(t *testing.T) {
	assert.Equal(t, 60, NewThrottledError("", 0).RetryAfterSeconds())
	assert.Equal(t, 2, NewThrottledError("", 1500*time.Millisecond).RetryAfterSeconds())
	assert.Equal(t, 30, NewThrottledError("", 30*time.Second).RetryAfterSeconds())
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "UPSTREAM", GetErrorCategory(ErrCodeUpstreamTimeout))
	assert.Equal(t, "UPSTREAM", GetErrorCategory(ErrCodeMalformedUpstreamOutput))
	assert.Equal(t, "GUARD", GetErrorCategory(ErrCodeThrottled))
	assert.Equal(t, "INTERNAL", GetErrorCategory(ErrCodeInternal))
}

func TestHandle_ThrottledWritesRetryAfter(t *testing.T) {
	log := &captureLogger{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/match", nil)

	NewErrorHandler(log).Handle(rec, req, NewThrottledError("cooldown", 42*time.Second))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 42, body.RetryAfter)
	assert.NotEmpty(t, body.Error)
	require.Len(t, log.msgs, 1)
	assert.Equal(t, "THROTTLED", log.fields[0]["errorCode"])
}

func TestHandle_NeverLeaksDetails(t *testing.T) {
	log := &captureLogger{}
	rec := httptest.NewRecorder()

	secret := "pq: password authentication failed for user admin"
	WriteError(rec, httptest.NewRequest(http.MethodPost, "/match", nil), fmt.Errorf("%s", secret), log)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "An unexpected error occurred")
	assert.Empty(t, rec.Header().Get("Retry-After"))
	require.Len(t, log.fields, 1)
	assert.Equal(t, secret, log.fields[0]["details"])
}

func TestHandle_MalformedBecomesUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, NewMalformedOutputError("unexpected token"), nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "temporarily unavailable")
	assert.NotContains(t, rec.Body.String(), "unexpected token")
}
