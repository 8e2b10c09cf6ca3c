package api

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spanlight/spanlight/internal/api/alerts"
	"github.com/spanlight/spanlight/internal/api/auth"
	"github.com/spanlight/spanlight/internal/api/channels"
	"github.com/spanlight/spanlight/internal/api/ingest"
	"github.com/spanlight/spanlight/internal/api/middleware"
	"github.com/spanlight/spanlight/internal/api/projects"
	"github.com/spanlight/spanlight/internal/api/repos"
	"github.com/spanlight/spanlight/internal/api/spans"
	"github.com/spanlight/spanlight/internal/api/triggers"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Create JWT service
	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.TokenTTL)

	// Token exchange is bcrypt-priced, so its limiter uses a long
	// window; authenticated routes get a per-minute budget.
	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP, 15*time.Minute)
	projectLimiter := middleware.NewRateLimiter(s.config.RateLimitPerProject, time.Minute)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Token exchange (public, IP rate limited)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ipLimiter))

			authHandler := auth.NewHandler(s.storage, jwtService, s.config.AdminAPIKey)
			r.Post("/auth/token", authHandler.Token)
		})

		// Span ingestion authenticates with the project ingest key, not
		// a JWT. SDKs post batches directly.
		ingestHandler := ingest.NewHandler(s.storage, s.buffer)
		r.Post("/ingest/spans", ingestHandler.Ingest)

		// Everything else requires a token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))
			r.Use(middleware.RateLimitByProject(projectLimiter))

			spansHandler := spans.NewHandler(s.spanStorage, s.config.MaxQueryRange)
			r.Route("/spans", func(r chi.Router) {
				r.Get("/", spansHandler.Query)
				r.Get("/stats", spansHandler.Stats)
				r.Get("/stream", spansHandler.Stream)
			})

			alertsHandler := alerts.NewHandler(
				s.storage,
				s.investigation.MetricSource,
				s.investigation.Analyzer,
				s.investigation.Correlator,
				s.config.InvestigateTimeout,
			)
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", alertsHandler.List)
				r.Post("/", alertsHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", alertsHandler.GetByID)
					r.Put("/", alertsHandler.Update)
					r.Delete("/", alertsHandler.Delete)
					r.Post("/investigate", alertsHandler.Investigate)
				})
			})

			triggersHandler := triggers.NewHandler(s.storage)
			r.Route("/triggers", func(r chi.Router) {
				r.Get("/", triggersHandler.List)
				r.Get("/{id}", triggersHandler.GetByID)
			})

			channelsHandler := channels.NewHandler(s.storage)
			r.Route("/channels", func(r chi.Router) {
				r.Get("/", channelsHandler.List)
				r.Post("/", channelsHandler.Create)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", channelsHandler.GetByID)
					r.Put("/", channelsHandler.Update)
					r.Delete("/", channelsHandler.Delete)
				})
			})

			projectsHandler := projects.NewHandler(s.storage)
			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectsHandler.List)
				r.Get("/{id}", projectsHandler.GetByID)

				// Management endpoints are admin-only
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Post("/", projectsHandler.Create)
					r.Put("/{id}", projectsHandler.Update)
					r.Delete("/{id}", projectsHandler.Delete)
					r.Put("/{id}/repository", projectsHandler.LinkRepository)
					r.Post("/{id}/rotate-key", projectsHandler.RotateKey)
				})
			})

			// Repo sync is pushed by the external indexer with an admin
			// credential.
			reposHandler := repos.NewHandler(s.storage)
			r.Route("/repos/{repoID}", func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Put("/commits", reposHandler.SyncCommits)
				r.Put("/pulls", reposHandler.SyncPulls)
			})
		})
	})

	// Health checks (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
