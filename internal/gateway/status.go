package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/run"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	Metrics       metrics.Snapshot `json:"metrics"`
	Running       []*run.Run       `json:"running"`
	EventsDropped int64            `json:"events_dropped"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		running := g.engine.Running()
		if running == nil {
			running = []*run.Run{}
		}
		resp := StatusResponse{
			UptimeSeconds: int64(time.Since(g.startedAt).Seconds()),
			Metrics:       g.metrics.Snapshot(),
			Running:       running,
			EventsDropped: g.hub.Dropped(),
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
