// Copyright 2025 VeilGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway binds HTTP to the governed retrieval pipeline: token
// issuance and verification, the search and export paths, step-up
// assertion, and audit inspection.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"veilgate/platform/artifact"
	"veilgate/platform/ledger"
	"veilgate/platform/redactor"
	"veilgate/platform/retriever"
	"veilgate/platform/session"
	"veilgate/platform/shared/config"
	"veilgate/platform/shared/logger"
	"veilgate/platform/store"
)

// Gateway wires every component behind the HTTP surface.
type Gateway struct {
	cfg        *config.Config
	logger     *logger.Logger
	store      store.Store
	ledger     *ledger.Ledger
	retriever  *retriever.Retriever
	redactor   *redactor.Redactor
	sessions   session.Store
	artifacts  artifact.Store
	signingKey []byte

	// Back-pressure gate: a slot is held for the life of each request
	// on the governed paths. When no slot is free the request is
	// rejected with 503 rather than queued.
	inFlight chan struct{}

	router *mux.Router
}

// New assembles a gateway from its collaborators.
func New(
	cfg *config.Config,
	log *logger.Logger,
	st store.Store,
	led *ledger.Ledger,
	ret *retriever.Retriever,
	red *redactor.Redactor,
	sess session.Store,
	art artifact.Store,
) *Gateway {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 256
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     log,
		store:      st,
		ledger:     led,
		retriever:  ret,
		redactor:   red,
		sessions:   sess,
		artifacts:  art,
		signingKey: []byte(cfg.TokenSigningKey),
		inFlight:   make(chan struct{}, maxInFlight),
	}
	g.router = g.buildRouter()
	return g
}

func (g *Gateway) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", g.healthHandler).Methods("GET")
	r.HandleFunc("/metrics", g.metricsHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/auth/token", g.instrument("/auth/token", g.tokenHandler)).Methods("POST")
	r.HandleFunc("/auth/step-up", g.instrument("/auth/step-up", g.stepUpHandler)).Methods("POST")
	r.HandleFunc("/search", g.instrument("/search", g.gated(g.searchHandler))).Methods("POST")
	r.HandleFunc("/export", g.instrument("/export", g.gated(g.exportHandler))).Methods("POST")
	r.HandleFunc("/audit/{subject_id}", g.instrument("/audit", g.auditHandler)).Methods("GET")

	return r
}

// Handler returns the full middleware stack: CORS around the router.
func (g *Gateway) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(g.router)
}

// Start serves until the listener fails.
func (g *Gateway) Start() error {
	g.logger.Info("", "", "VeilGate gateway starting", map[string]interface{}{
		"port":   g.cfg.Port,
		"tenant": g.cfg.Tenant,
	})
	return http.ListenAndServe(":"+g.cfg.Port, g.Handler())
}

// instrument records request count and duration per endpoint, and
// bounds the handler with the configured request deadline.
func (g *Gateway) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := r.Context()
		if g.cfg.RequestDeadline > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestDeadline)
			defer cancel()
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r.WithContext(ctx))

		promRequestsTotal.WithLabelValues(endpoint, http.StatusText(sw.status)).Inc()
		promRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// gated applies the back-pressure gate around a handler.
func (g *Gateway) gated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case g.inFlight <- struct{}{}:
			defer func() { <-g.inFlight }()
			next(w, r)
		default:
			promBackPressureRejects.Inc()
			writeError(w, http.StatusServiceUnavailable, "gateway saturated, retry later")
		}
	}
}

// statusWriter captures the status code for metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (g *Gateway) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "veilgate-gateway",
		"timestamp": time.Now().UTC(),
	})
}

// metricsHandler reports component counters as JSON. Prometheus format
// is served separately at /prometheus.
func (g *Gateway) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ledger":    g.ledger.Stats(),
		"in_flight": len(g.inFlight),
		"capacity":  cap(g.inFlight),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
