// Package server provides the HTTP server and routing for the simulation
// service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantfolio/montesim/internal/config"
	"github.com/quantfolio/montesim/internal/database"
	"github.com/quantfolio/montesim/internal/modules/history"
	"github.com/quantfolio/montesim/internal/modules/ingest"
	"github.com/quantfolio/montesim/internal/modules/runs"
)

// Config holds the server's dependencies.
type Config struct {
	Log         zerolog.Logger
	Config      *config.Config
	HistoryDB   *database.DB
	ResultsDB   *database.DB
	RunService  *runs.Service
	RunRepo     *runs.Repository
	ProgressHub *runs.ProgressHub
	HistoryRepo *history.Repository
	SyncService *ingest.SyncService
}

// Server is the HTTP front end over the run, history, and sync services.
type Server struct {
	router          *chi.Mux
	server          *http.Server
	log             zerolog.Logger
	cfg             *config.Config
	runHandlers     *RunHandlers
	historyHandlers *HistoryHandlers
	systemHandlers  *SystemHandlers
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg.Config,
		runHandlers: NewRunHandlers(
			cfg.RunService, cfg.RunRepo, cfg.ProgressHub, cfg.Log),
		historyHandlers: NewHistoryHandlers(
			cfg.HistoryRepo, cfg.SyncService, cfg.Config, cfg.Log),
		systemHandlers: NewSystemHandlers(
			cfg.Log, cfg.Config.DataDir, cfg.HistoryDB, cfg.ResultsDB, cfg.HistoryRepo),
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/simulations", func(r chi.Router) {
			r.Post("/", s.runHandlers.HandleCreateRun)
			r.Get("/", s.runHandlers.HandleListRuns)
			r.Get("/{id}", s.runHandlers.HandleGetRun)
			r.Get("/{id}/results", s.runHandlers.HandleGetResults)
			r.Get("/{id}/export", s.runHandlers.HandleExportCSV)
			r.Get("/{id}/progress", s.runHandlers.HandleProgressStream)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/{ticker}", s.historyHandlers.HandleGetBars)
			r.Get("/{ticker}/stats", s.historyHandlers.HandleGetStats)
		})

		r.Post("/sync", s.historyHandlers.HandleSync)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
