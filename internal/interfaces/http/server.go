package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/quantforge/tickpipe/internal/market"
	"github.com/quantforge/tickpipe/internal/metrics"
)

// VectorReader is what the server needs from the feature cache.
type VectorReader interface {
	GetLatest(ctx context.Context, symbol string) (market.FeatureVector, bool, error)
}

// Server exposes the streaming pipeline's operational surface: health,
// Prometheus metrics and the latest published feature vector per symbol.
type Server struct {
	router  *mux.Router
	httpSrv *http.Server
	vectors VectorReader
	started time.Time
}

type healthResponse struct {
	Status   string `json:"status"`
	UptimeMS int64  `json:"uptime_ms"`
}

// NewServer wires the routes. vectors may be nil when no cache is
// configured; the endpoint then reports 404 for every symbol.
func NewServer(addr string, reg *metrics.Registry, vectors VectorReader) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		vectors: vectors,
		started: time.Now(),
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/features/latest/{symbol}", s.handleLatestFeatures).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown; it blocks.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "healthy",
		UptimeMS: time.Since(s.started).Milliseconds(),
	})
}

func (s *Server) handleLatestFeatures(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if s.vectors == nil {
		http.Error(w, "no feature cache configured", http.StatusNotFound)
		return
	}
	vec, ok, err := s.vectors.GetLatest(r.Context(), symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("feature cache read failed")
		http.Error(w, "cache read failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no vector published for "+symbol, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, vec)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
