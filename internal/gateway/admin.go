package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/run"
	"github.com/flemzord/baton/internal/security"
)

// jobJSON is a serializable job definition. Credential names are listed so
// operators can see what a job expects; values never leave the process
// environment.
type jobJSON struct {
	Name        string   `json:"name"`
	Schedule    string   `json:"schedule,omitempty"`
	ManualOnly  bool     `json:"manual_only,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
	Command     string   `json:"command"`
	Artifact    string   `json:"artifact"`
	Persist     string   `json:"persist"`
	Timeout     string   `json:"timeout"`
	Credentials []string `json:"credentials,omitempty"`
}

func jobToJSON(name string, jc *config.JobConfig) jobJSON {
	return jobJSON{
		Name:        name,
		Schedule:    jc.Schedule,
		ManualOnly:  jc.ManualOnly,
		Disabled:    jc.Disabled,
		Command:     jc.Command,
		Artifact:    jc.Session.Artifact,
		Persist:     jc.Persist,
		Timeout:     jc.Timeout,
		Credentials: jc.Credentials,
	}
}

// handleListJobs returns the configured jobs sorted by name.
func (g *Gateway) handleListJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		jobs := g.engine.Jobs()
		names := make([]string, 0, len(jobs))
		for name := range jobs {
			names = append(names, name)
		}
		sort.Strings(names)

		out := make([]jobJSON, 0, len(names))
		for _, name := range names {
			out = append(out, jobToJSON(name, jobs[name]))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleTriggerJob fires a job on behalf of an authenticated operator.
func (g *Gateway) handleTriggerJob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := chi.URLParam(r, "job")
		if job == "" {
			http.Error(w, "missing job", http.StatusBadRequest)
			return
		}
		g.startRun(w, r, job, run.ReasonManual)
	}
}

// startRun triggers a job asynchronously and maps engine admission errors
// to HTTP statuses. Shared by the admin trigger and the webhook.
func (g *Gateway) startRun(w http.ResponseWriter, r *http.Request, job string, reason run.Reason) {
	// The daemon context, not the request context: the run must outlive
	// this response.
	snap, err := g.engine.TriggerAsync(g.runCtx, job, reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job":    job,
			"run_id": snap.ID,
		})
	case errors.Is(err, engine.ErrUnknownJob):
		g.auditDenied(r, job, "unknown job")
		http.Error(w, "unknown job", http.StatusNotFound)
	case errors.Is(err, engine.ErrJobDisabled):
		g.auditDenied(r, job, "job disabled")
		http.Error(w, "job disabled", http.StatusForbidden)
	case errors.Is(err, engine.ErrRunInProgress):
		g.auditDenied(r, job, "run already in progress")
		writeJSON(w, http.StatusConflict, map[string]string{"error": "run already in progress"})
	default:
		g.logger.Error("trigger failed", "job", job, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// listLimit parses the ?limit query parameter with a default of 20,
// capped at 200.
func listLimit(r *http.Request) int {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	return limit
}

// handleJobRuns returns the most recent runs of one job, newest first.
func (g *Gateway) handleJobRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := chi.URLParam(r, "job")
		if job == "" {
			http.Error(w, "missing job", http.StatusBadRequest)
			return
		}

		runs := []*run.Run{}
		if g.history != nil {
			list, err := g.history.ListByJob(r.Context(), job, listLimit(r))
			if err != nil {
				g.logger.Error("list runs failed", "job", job, "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			runs = append(runs, list...)
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// handleListRuns returns the most recent finished runs across all jobs.
// Live runs appear on /status until they finish.
func (g *Gateway) handleListRuns() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs := []*run.Run{}
		if g.history != nil {
			list, err := g.history.List(r.Context(), listLimit(r))
			if err != nil {
				g.logger.Error("list runs failed", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			runs = append(runs, list...)
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

// handleGetRun returns one run by id, live or finished.
func (g *Gateway) handleGetRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if live, ok := g.engine.Find(id); ok {
			writeJSON(w, http.StatusOK, live)
			return
		}
		if g.history == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}

		rec, err := g.history.Get(r.Context(), id)
		if errors.Is(err, history.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			g.logger.Error("get run failed", "run_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// handleRunLog streams the captured output of one run. Logs are redacted
// at write time, so serving them verbatim is safe.
func (g *Gateway) handleRunLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			http.Error(w, "invalid run id", http.StatusBadRequest)
			return
		}

		job, ok := g.lookupRunJob(r, id)
		if !ok {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}

		f, err := os.Open(engine.LogPath(g.dataDir, job, id))
		if err != nil {
			http.Error(w, "log not found", http.StatusNotFound)
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.Copy(w, f)
	}
}

// lookupRunJob resolves which job a run id belongs to, checking live runs
// before history.
func (g *Gateway) lookupRunJob(r *http.Request, id string) (string, bool) {
	if live, ok := g.engine.Find(id); ok {
		return live.Job, true
	}
	if g.history == nil {
		return "", false
	}
	rec, err := g.history.Get(r.Context(), id)
	if err != nil {
		return "", false
	}
	return rec.Job, true
}

// handleListArtifacts returns summaries of every stored session artifact.
// Summaries never include file contents.
func (g *Gateway) handleListArtifacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := g.store.List(r.Context())
		if err != nil {
			g.logger.Error("list artifacts failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

// handleDeleteArtifact drops a session artifact, forcing the next run of
// its job to cold start.
func (g *Gateway) handleDeleteArtifact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := security.ValidateName(name); err != nil {
			http.Error(w, "invalid artifact name", http.StatusBadRequest)
			return
		}

		err := g.store.Delete(r.Context(), name)
		if errors.Is(err, artifact.ErrNotFound) {
			http.Error(w, "artifact not found", http.StatusNotFound)
			return
		}
		if err != nil {
			g.logger.Error("delete artifact failed", "artifact", name, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if g.audit != nil {
			g.audit.Log(security.AuditEvent{
				Type:   security.EventArtifactDeleted,
				Detail: name,
				Remote: r.RemoteAddr,
			})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
