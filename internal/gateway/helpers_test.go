package gateway

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/baton/internal/artifact/fsstore"
	"github.com/flemzord/baton/internal/config"
	"github.com/flemzord/baton/internal/engine"
	"github.com/flemzord/baton/internal/event"
	"github.com/flemzord/baton/internal/history"
	"github.com/flemzord/baton/internal/metrics"
	"github.com/flemzord/baton/internal/run"
	"github.com/flemzord/baton/internal/security"
	"github.com/flemzord/baton/internal/workunit"
	"github.com/flemzord/baton/internal/workunit/workunittest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// testGateway bundles a gateway with the engine behind it so tests can
// script commands and wait on runs.
type testGateway struct {
	*Gateway

	dir    string
	router http.Handler
	unit   *workunittest.Unit
	hist   *history.Store
	events []security.AuditEvent
}

// newTestGateway builds a gateway over a real engine with one job named
// "checkin" whose scripted command writes a session file. The Bind field
// defaults to loopback; tests exercise handlers through the router
// without listening.
func newTestGateway(t *testing.T, gc config.GatewayConfig) *testGateway {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{Version: "1", DataDir: dir, Jobs: map[string]*config.JobConfig{
		"checkin": {
			Schedule: "30 7 * * *",
			Command:  "./checkin --once",
			Session:  config.SessionConfig{Files: "*.json"},
		},
	}}
	cfg.ApplyDefaults()

	store, err := fsstore.New(filepath.Join(dir, "artifacts"))
	if err != nil {
		t.Fatalf("fsstore.New: %v", err)
	}
	hist, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	unit := &workunittest.Unit{
		Script: func(inv workunit.Invocation) (workunit.Result, error) {
			err := os.WriteFile(filepath.Join(inv.Dir, "cookie.json"), []byte("session"), 0o600)
			return workunit.Result{}, err
		},
	}

	hub := event.NewHub()
	m := metrics.New()
	eng, err := engine.New(engine.Params{
		DataDir: dir,
		Jobs:    cfg.Jobs,
		Store:   store,
		History: hist,
		Unit:    unit,
		Hub:     hub,
		Metrics: m,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	tg := &testGateway{dir: dir, unit: unit, hist: hist}

	audit := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(ev security.AuditEvent) { tg.events = append(tg.events, ev) },
	})

	if gc.Bind == "" {
		gc.Bind = "127.0.0.1:0"
	}
	g, err := New(Params{
		Config:  gc,
		DataDir: dir,
		Engine:  eng,
		Store:   store,
		History: hist,
		Hub:     hub,
		Metrics: m,
		Audit:   audit,
		Logger:  testLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tg.Gateway = g
	tg.router = g.buildRouter()
	return tg
}

// waitForRun polls history until the run with the given id is recorded.
func (tg *testGateway) waitForRun(t *testing.T, id string) *run.Run {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := tg.hist.Get(context.Background(), id)
		if err == nil {
			return rec
		}
		if !errors.Is(err, history.ErrNotFound) {
			t.Fatalf("history.Get: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", id)
	return nil
}

// do routes a request through the gateway mux and returns the recorder.
func (tg *testGateway) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	tg.router.ServeHTTP(rr, req)
	return rr
}

// authed adds the bearer token used by admin tests.
func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer test-token")
	return req
}

// adminConfig returns a gateway config with bearer auth enabled.
func adminConfig() config.GatewayConfig {
	return config.GatewayConfig{
		Auth: config.AuthConfig{BearerToken: "test-token"},
	}
}
