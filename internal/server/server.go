// Package server exposes a minimal read-only HTTP surface: liveness and
// a status snapshot of the scheduler's current regime, circuit-breaker
// state, and process health. There is no dashboard and no mutating
// endpoint — operators read the structured log stream for everything
// else.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/reliability"
	"github.com/aristath/sentinel/internal/risk"
)

// RegimeSource is implemented by *scheduler.Engine. A narrow interface
// keeps this package from importing scheduler, which already imports
// nearly everything else.
type RegimeSource interface {
	CurrentRegime() domain.MarketRegime
}

// Server is the read-only status HTTP server.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	engine RegimeSource
	risk   *risk.Core
}

// New builds the status server. Routes are read-only by construction:
// there is no POST/PUT/DELETE route registered anywhere.
func New(cfg *config.Config, log zerolog.Logger, engine RegimeSource, riskCore *risk.Core) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    log.With().Str("component", "server").Logger(),
		engine: engine,
		risk:   riskCore,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(10 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Regime domain.MarketRegime      `json:"regime"`
	Halted bool                     `json:"circuit_breaker_halted"`
	Health reliability.HealthSample `json:"health"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Regime: s.engine.CurrentRegime(),
		Halted: s.risk.Halted(),
		Health: reliability.SampleHealth(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("status server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
