package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults_FillsJobFields(t *testing.T) {
	cfg := &Config{
		Version: "1",
		DataDir: "/data",
		Jobs: map[string]*JobConfig{
			"checkin": {
				Schedule: "30 7 * * *",
				Command:  "./checkin",
				Session:  SessionConfig{Files: "*.json"},
			},
		},
	}
	cfg.ApplyDefaults()

	j := cfg.Jobs["checkin"]
	if j.Session.Artifact != "checkin-session" {
		t.Errorf("artifact = %q, want checkin-session", j.Session.Artifact)
	}
	if j.Session.RetentionDays != 7 {
		t.Errorf("retention_days = %d, want 7", j.Session.RetentionDays)
	}
	if j.Timeout != "1h" {
		t.Errorf("timeout = %q, want 1h", j.Timeout)
	}
	if j.Persist != PersistAlways {
		t.Errorf("persist = %q, want always", j.Persist)
	}
	if want := filepath.Join("/data", "jobs", "checkin", "workspace"); j.Workdir != want {
		t.Errorf("workdir = %q, want %q", j.Workdir, want)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Version: "1",
		DataDir: "/data",
		Jobs: map[string]*JobConfig{
			"j": {
				Command: "true",
				Session: SessionConfig{Files: "*.json", Artifact: "shared", RetentionDays: 30},
				Timeout: "15m",
				Persist: PersistOnSuccess,
				Workdir: "/opt/work",
			},
		},
	}
	cfg.ApplyDefaults()

	j := cfg.Jobs["j"]
	if j.Session.Artifact != "shared" || j.Session.RetentionDays != 30 {
		t.Errorf("session overridden: %+v", j.Session)
	}
	if j.Timeout != "15m" || j.Persist != PersistOnSuccess || j.Workdir != "/opt/work" {
		t.Errorf("job overridden: %+v", j)
	}
}

func TestApplyDefaults_NilJobBody(t *testing.T) {
	cfg := &Config{
		Version: "1",
		DataDir: "/data",
		Jobs:    map[string]*JobConfig{"empty": nil},
	}
	cfg.ApplyDefaults()

	if cfg.Jobs["empty"] == nil {
		t.Fatal("nil job body should become an empty definition")
	}
	if cfg.Jobs["empty"].Session.Artifact != "empty-session" {
		t.Errorf("artifact = %q", cfg.Jobs["empty"].Session.Artifact)
	}
}

func TestApplyDefaults_StorePaths(t *testing.T) {
	cfg := &Config{Version: "1", DataDir: "/data", Jobs: map[string]*JobConfig{}}
	cfg.ApplyDefaults()
	if cfg.Store.Backend != StoreBackendFS {
		t.Errorf("backend = %q, want fs", cfg.Store.Backend)
	}
	if want := filepath.Join("/data", "artifacts"); cfg.Store.Path != want {
		t.Errorf("path = %q, want %q", cfg.Store.Path, want)
	}

	cfg = &Config{Version: "1", DataDir: "/data", Jobs: map[string]*JobConfig{}}
	cfg.Store.Backend = StoreBackendSQLite
	cfg.ApplyDefaults()
	if want := filepath.Join("/data", "artifacts.db"); cfg.Store.Path != want {
		t.Errorf("sqlite path = %q, want %q", cfg.Store.Path, want)
	}
}

func TestApplyDefaults_Sections(t *testing.T) {
	cfg := &Config{Version: "1", DataDir: "/data", Jobs: map[string]*JobConfig{}}
	cfg.ApplyDefaults()

	if want := filepath.Join("/data", "history.db"); cfg.History.Path != want {
		t.Errorf("history path = %q, want %q", cfg.History.Path, want)
	}
	if cfg.History.KeepDays != 90 {
		t.Errorf("keep_days = %d, want 90", cfg.History.KeepDays)
	}
	if cfg.Gateway.Bind != "127.0.0.1:8080" {
		t.Errorf("bind = %q", cfg.Gateway.Bind)
	}
	if cfg.Notify.NotifyOn != NotifyAll {
		t.Errorf("notify_on = %q", cfg.Notify.NotifyOn)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "auto" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestParsedTimeout(t *testing.T) {
	j := &JobConfig{Timeout: "45m"}
	if got := j.ParsedTimeout(); got != 45*time.Minute {
		t.Errorf("ParsedTimeout() = %v, want 45m", got)
	}
	j.Timeout = "garbage"
	if got := j.ParsedTimeout(); got != time.Hour {
		t.Errorf("fallback = %v, want 1h", got)
	}
}

func TestSessionRetention(t *testing.T) {
	s := SessionConfig{RetentionDays: 7}
	if got := s.Retention(); got != 7*24*time.Hour {
		t.Errorf("Retention() = %v", got)
	}
}

func TestAuthIsConfigured(t *testing.T) {
	if (AuthConfig{}).IsConfigured() {
		t.Error("empty auth should not be configured")
	}
	if !(AuthConfig{BearerToken: "tok"}).IsConfigured() {
		t.Error("bearer token should count")
	}
	if (AuthConfig{BasicUser: "u"}).IsConfigured() {
		t.Error("basic user without pass should not count")
	}
	if !(AuthConfig{BasicUser: "u", BasicPass: "p"}).IsConfigured() {
		t.Error("basic pair should count")
	}
}

func TestGatewayTimeoutDefaults(t *testing.T) {
	var g GatewayConfig
	if g.ParsedReadTimeout() != 10*time.Second {
		t.Errorf("read = %v", g.ParsedReadTimeout())
	}
	if g.ParsedWriteTimeout() != 30*time.Second {
		t.Errorf("write = %v", g.ParsedWriteTimeout())
	}
	g.ReadTimeout = "2s"
	if g.ParsedReadTimeout() != 2*time.Second {
		t.Errorf("explicit read = %v", g.ParsedReadTimeout())
	}
}
