// Package server exposes the read API over HTTP and process health over
// gRPC. Writes never enter here; transitions arrive through the message
// intake only.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"perpcore/internal/keys"
	"perpcore/internal/observability"
	"perpcore/internal/perperr"
	"perpcore/internal/query"
)

// HTTPServer serves the JSON query API, health probes, and metrics.
type HTTPServer struct {
	srv     *http.Server
	queries *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPServer(addr string, qs *query.Service, hc *observability.HealthChecker, m *observability.Metrics, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		queries: qs,
		metrics: m,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/markets/{address}", s.instrument("market", s.handleMarket)).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{trader}", s.instrument("user", s.handleUser)).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{trader}/positions/{market_id}", s.instrument("position", s.handlePosition)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", hc.LivenessHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", hc.ReadinessHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route tree, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler { return s.srv.Handler }

// Start serves until ctx is cancelled, then drains with a short grace period.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

func (s *HTTPServer) handleMarket(w http.ResponseWriter, r *http.Request) {
	addr, err := keys.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid market address")
		return
	}
	view, err := s.queries.Market(r.Context(), addr)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request) {
	trader, err := keys.ParseAddress(mux.Vars(r)["trader"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid trader address")
		return
	}
	view, err := s.queries.User(r.Context(), trader)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trader, err := keys.ParseAddress(vars["trader"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid trader address")
		return
	}
	marketID, err := strconv.ParseUint(vars["market_id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}
	view, err := s.queries.Position(r.Context(), trader, marketID)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// instrument wraps a handler with per-endpoint request counts and latency.
func (s *HTTPServer) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		if s.metrics != nil {
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *HTTPServer) writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, perperr.ErrNotInitialized) {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error().Err(err).Msg("query failed")
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
