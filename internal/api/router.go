package api

import (
	"context"
	"net/http"

	"github.com/agentoven/successdesk/internal/api/handlers"
	"github.com/agentoven/successdesk/internal/api/middleware"
	"github.com/agentoven/successdesk/internal/config"
	"github.com/agentoven/successdesk/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. ctx bounds the
// background work of the rate limiter.
func NewRouter(ctx context.Context, cfg *config.Config, h *handlers.Handlers, sess *middleware.Sessions, operators contracts.OperatorAuthenticator) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", middleware.SessionHeader},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id", middleware.SessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.Version)

	limit := middleware.RateLimit(ctx, cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst)

	// Browser-session routes
	r.Group(func(r chi.Router) {
		r.Use(sess.Handler)

		r.Post("/api/log", h.ClientLog)

		// Calls that reach a language model or a provider
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/route", h.Route)
			r.Post("/validate/{provider}", h.ValidateKey)
			r.Post("/api/v1/chat", h.Chat)
			r.Post("/api/v1/customer-success", h.CustomerSuccess)
			r.Put("/api/v1/credentials/{provider}", h.SetCredential)
		})

		r.Delete("/api/v1/credentials/{provider}", h.DeleteCredential)
		r.Get("/api/v1/quota", h.GetQuota)
		r.Get("/api/v1/chats/{chatID}", h.GetChat)
		r.Delete("/api/v1/chats/{chatID}", h.DeleteChat)
	})

	// Public catalog
	r.Get("/api/v1/models", h.ListChatModels)
	r.Get("/api/v1/agents", h.ListAgents)
	r.Get("/api/v1/agents/{agentID}", h.GetAgent)

	// Operator surface
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(middleware.OperatorAuth(operators, cfg.IsDevelopment()))

		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Patch("/", h.UpdateAgent)
			r.Post("/reset", h.ResetAgent)
		})
		r.Post("/sessions/{sessionID}/quota/reset", h.ResetQuota)
		r.Get("/traces", h.ListTraces)
		r.Get("/cost", h.GetCostSummary)
		r.Get("/logs", h.ListClientLogs)
	})

	return r
}
