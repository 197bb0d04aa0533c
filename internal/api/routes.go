package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zerverless/coordinator/internal/config"
	"github.com/zerverless/coordinator/internal/coordinator"
	"github.com/zerverless/coordinator/internal/volunteer"
	"github.com/zerverless/coordinator/internal/ws"
)

func NewRouter(cfg *config.Config, coord *coordinator.Coordinator, vm *volunteer.Manager, wsServer *ws.Server, archive Archive) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	h := NewHandlers(cfg, coord, vm)
	h.archive = archive

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/info", h.Info)
	r.Get("/stats", h.Stats)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)
		}

		r.Get("/catalog", h.Catalog)

		r.Post("/jobs", h.GenerateJob)
		r.Post("/jobs/available", h.AvailableJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/assign", h.AssignJob)
		r.Post("/jobs/{id}/results", h.SubmitResult)

		r.Get("/contributors/{id}", h.GetContribution)
		r.Get("/leaderboard", h.Leaderboard)

		if archive != nil {
			r.Get("/archive", h.ListArchived)
			r.Get("/archive/{id}", h.GetArchived)
		}

		r.Post("/admin/sweep", h.Sweep)
	})

	if wsServer != nil {
		r.Get("/ws/volunteer", wsServer.HandleVolunteer)
	}

	return r
}
