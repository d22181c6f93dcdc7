package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(h.recoverMiddleware)
	r.Use(h.loggingMiddleware)

	r.Get("/health", h.health)
	r.Get("/ready", h.readiness)
	r.Get("/stats", h.platformStats)
	r.Handle("/metrics", promhttp.Handler())

	for _, path := range []string{"/match", "/ai-match"} {
		r.Post(path, h.match)
		r.Options(path, h.match)
	}

	return r
}
