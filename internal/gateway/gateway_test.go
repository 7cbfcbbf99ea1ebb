package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/baton/internal/artifact"
	"github.com/flemzord/baton/internal/config"
)

func TestNew_RequiresWiring(t *testing.T) {
	t.Parallel()

	if _, err := New(Params{}); err == nil {
		t.Error("expected error without engine")
	}

	tg := newTestGateway(t, adminConfig())
	p := Params{Engine: tg.engine, Store: tg.store, Config: config.GatewayConfig{}}
	if _, err := New(p); err == nil || !strings.Contains(err.Error(), "bind") {
		t.Errorf("expected bind error, got %v", err)
	}
}

// freeAddr returns a free TCP address on localhost.
func freeAddr(t *testing.T) string {
	t.Helper()
	var lc net.ListenConfig
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestGateway_StartStop(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	tg := newTestGateway(t, config.GatewayConfig{Bind: addr})

	if err := tg.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("health.Status = %q, want %q", health.Status, "ok")
	}
	if health.Jobs != 1 {
		t.Errorf("health.Jobs = %d, want 1", health.Jobs)
	}

	if err := tg.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGateway_StopNilServer(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, config.GatewayConfig{})
	if err := tg.Stop(context.Background()); err != nil {
		t.Errorf("Stop on never-started gateway should not error: %v", err)
	}
}

func TestGateway_AdminNotMountedWithoutAuth(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, config.GatewayConfig{})

	for _, path := range []string{"/status", "/api/jobs", "/api/runs"} {
		rr := tg.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 404 or 405 (not mounted)", path, rr.Code)
		}
	}
}

func TestGateway_WebhookNotMountedWithoutSecret(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, config.GatewayConfig{})

	rr := tg.do(httptest.NewRequest(http.MethodPost, "/webhooks/trigger/checkin", nil))
	if rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("webhook = %d, want 404 or 405 (not mounted)", rr.Code)
	}
}

func TestGateway_AdminWithAuth(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, adminConfig())

	// Without token → 401.
	rr := tg.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no-auth status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// With valid token → 200.
	rr = tg.do(authed(httptest.NewRequest(http.MethodGet, "/status", nil)))
	if rr.Code != http.StatusOK {
		t.Errorf("auth status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestGateway_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, config.GatewayConfig{})

	rr := tg.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	body, err := io.ReadAll(rr.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "baton_runs_in_flight") {
		t.Error("scrape output missing baton counters")
	}
}

// failingStore implements artifact.Store and errors on every call.
type failingStore struct{}

func (failingStore) Restore(context.Context, string) ([]artifact.File, error) {
	return nil, io.ErrUnexpectedEOF
}

func (failingStore) Persist(context.Context, string, []artifact.File, time.Duration) error {
	return io.ErrUnexpectedEOF
}

func (failingStore) List(context.Context) ([]artifact.Info, error) {
	return nil, io.ErrUnexpectedEOF
}

func (failingStore) Delete(context.Context, string) error {
	return io.ErrUnexpectedEOF
}

func (failingStore) Prune(context.Context, time.Time) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestGateway_HealthDegraded(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, config.GatewayConfig{})
	tg.store = failingStore{}
	tg.router = tg.buildRouter()

	rr := tg.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	var health HealthResponse
	if err := json.NewDecoder(rr.Result().Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
}

func TestStatus_ShowsRunningAndMetrics(t *testing.T) {
	t.Parallel()

	tg := newTestGateway(t, adminConfig())

	// Finish one run so the counters move.
	rr := tg.do(authed(httptest.NewRequest(http.MethodPost, "/api/jobs/checkin/trigger", nil)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d: %s", rr.Code, rr.Body.String())
	}
	var accepted map[string]string
	if err := json.NewDecoder(rr.Result().Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}
	tg.waitForRun(t, accepted["run_id"])

	rr = tg.do(authed(httptest.NewRequest(http.MethodGet, "/status", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var status StatusResponse
	if err := json.NewDecoder(rr.Result().Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Metrics.RunsStarted != 1 || status.Metrics.RunsSucceeded != 1 {
		t.Errorf("metrics = %+v", status.Metrics)
	}
	if status.Running == nil {
		t.Error("running should be an empty list, not null")
	}
}
