package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/ignite/leadtrack/internal/metrics"
)

// RouterConfig holds the dashboard API middleware settings.
type RouterConfig struct {
	CORSOrigins        []string
	RateLimitPerMinute int
}

// SetupRoutes mounts the dashboard API under /api and /metrics on r. Rate
// limiting applies to /api only; beacon routes mounted elsewhere on r are
// never throttled.
func SetupRoutes(r chi.Router, h *Handlers, cfg RouterConfig) {
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		if cfg.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
		}

		r.Post("/tokens", h.IssueToken)

		r.Get("/leads", h.ListLeads)
		r.Get("/leads/{id}/engagement", h.GetLeadEngagement)
		r.Post("/leads/{id}/recompute", h.RecomputeLead)

		r.Get("/campaigns/{id}/interactions", h.GetCampaignInteractions)
		r.Get("/campaigns/{id}/interactions/leads", h.ListCampaignInteractions)
		r.Get("/campaigns/{id}/interactions/verify", h.VerifyCampaignInteractions)
		r.Post("/campaigns/{id}/rebuild", h.RebuildCampaign)
	})
}

// NewRouter returns a standalone router serving only the API and metrics.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	SetupRoutes(r, h, cfg)
	return r
}
