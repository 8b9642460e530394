package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/metrics"
	"github.com/opensource-community/heron/internal/moderation"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	hub     *Hub
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. The dashboard WebSocket is only
// mounted when bus is not nil.
func NewServer(cfg domain.ServerConfig, service *moderation.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Server {
	handler := NewHandler(service, repo, cache, bus, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware(cfg.AllowedOrigins))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", metrics.Handler())

	var hub *Hub
	if bus != nil {
		hub = NewHub(bus, cfg.AllowedOrigins)
		router.Get("/ws/dashboard", hub.ServeWS)
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/stats", handler.Stats)
		r.Get("/whitelist", handler.ListWhitelist)
		r.Get("/rules", handler.ListRules)
		r.Get("/leaderboard", handler.Leaderboard)
		r.Get("/escalation/stats", handler.EscalationStats)

		r.Get("/users", handler.ListUsers)
		r.Get("/users/risk-analysis", handler.RiskAnalysis)
		r.Get("/users/{id}", handler.GetUser)
		r.Get("/users/{id}/stats", handler.GetUserStats)
		r.Get("/users/{id}/export", handler.ExportUser)
		r.Get("/users/{id}/actions", handler.ListActions)
		r.Get("/users/{id}/profile", handler.GetProfile)

		// Mutations share one rate limiter.
		r.Group(func(r chi.Router) {
			if cfg.RateLimit > 0 {
				burst := cfg.Burst
				if burst <= 0 {
					burst = 1
				}
				r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
			}

			r.Post("/users", handler.CreateUser)
			r.Post("/users/import", handler.ImportUser)
			r.Post("/users/{id}/infractions", handler.ApplyInfraction)
			r.Put("/users/{id}/risk", handler.SetRisk)
			r.Post("/users/{id}/actions/warning", handler.SendWarning)
			r.Post("/users/{id}/actions/education", handler.SendEducation)
			r.Post("/users/{id}/actions/timeout", handler.Timeout)
			r.Post("/users/{id}/actions/reset", handler.ResetViolations)
			r.Post("/users/{id}/rewards", handler.AwardPoints)
			r.Post("/users/{id}/messages", handler.RecordPositiveMessage)
			r.Post("/users/{id}/whitelist", handler.AddToWhitelist)
			r.Delete("/users/{id}/whitelist", handler.RemoveFromWhitelist)
			r.Post("/events", handler.EnqueueEvent)
			r.Post("/rules", handler.CreateRule)
			r.Post("/rules/reload", handler.ReloadRules)
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		hub:     hub,
		config:  cfg,
	}
}

// Start starts the dashboard hub and the HTTP server.
func (s *Server) Start() error {
	if s.hub != nil {
		if err := s.hub.Start(context.Background()); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and disconnects dashboard
// clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		if err := s.hub.Close(); err != nil {
			slog.Warn("failed to close dashboard hub", "error", err)
		}
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

// Hub returns the dashboard hub, nil without an event bus.
func (s *Server) Hub() *Hub {
	return s.hub
}
