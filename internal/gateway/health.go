package gateway

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Jobs    int    `json:"jobs"`
	Running int    `json:"running"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the artifact store answers, 503 when it does not:
// a daemon that cannot restore sessions is not healthy.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Jobs:    len(g.engine.Jobs()),
			Running: len(g.engine.Running()),
		}

		if _, err := g.store.List(r.Context()); err != nil {
			resp.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
