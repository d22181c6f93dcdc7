package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"influencer-match/internal/common/errors"
)

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

const HeaderRequestID = "X-Request-Id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", map[string]interface{}{
					"requestId": RequestIDFromContext(r.Context()),
					"method":    r.Method,
					"path":      r.URL.Path,
					"panic":     rec,
				})
				errors.WriteJSON(w, http.StatusInternalServerError, errors.ErrorBody{
					Error: errors.PublicMessage(errors.ErrCodeInternal),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		fields := map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"statusCode": statusCode,
			"bytes":      recorder.bytes,
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  RequestIDFromContext(r.Context()),
		}
		switch {
		case statusCode >= 500:
			h.logger.Error("http request completed", fields)
		case statusCode >= 400:
			h.logger.Warn("http request completed", fields)
		default:
			h.logger.Info("http request completed", fields)
		}
	})
}

// RequestIDFromContext returns the id set by the request-id middleware.
func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return s
	}
	return ""
}
