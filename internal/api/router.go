// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the ops router.
func NewRouter(cfg RouterConfig, h *Handler) http.Handler {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetrics)

	r.Get("/healthz", h.Live)
	r.Get("/readyz", h.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(APISecurityHeaders())

		if h.deadLetters != nil {
			r.Get("/deadletters", h.DeadLetters)
			r.Get("/deadletters/count", h.DeadLetterCount)
		}
		if h.watermarks != nil {
			r.Get("/watermarks/{provider}/{branch}/{docType}", h.Watermark)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

// NewServer returns an *http.Server for handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
}
