package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", g.metrics.Handler())

	// Trigger webhook — authenticated by HMAC over the request body.
	// Not mounted without a shared secret.
	if g.cfg.WebhookSecret != "" {
		r.Post("/webhooks/trigger/{job}", g.handleTriggerWebhook())
	}

	// Admin endpoints — auth required. Not mounted if no auth configured.
	if g.cfg.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.cfg.Auth, g.audit, g.limiter))
			r.Get("/status", g.handleStatus())
			r.Get("/ws/runs", g.handleRunStream())
			r.Route("/api", func(r chi.Router) {
				r.Get("/jobs", g.handleListJobs())
				r.Post("/jobs/{job}/trigger", g.handleTriggerJob())
				r.Get("/jobs/{job}/runs", g.handleJobRuns())
				r.Get("/runs", g.handleListRuns())
				r.Get("/runs/{id}", g.handleGetRun())
				r.Get("/runs/{id}/log", g.handleRunLog())
				r.Get("/artifacts", g.handleListArtifacts())
				r.Delete("/artifacts/{name}", g.handleDeleteArtifact())
			})
		})
	}

	return r
}
