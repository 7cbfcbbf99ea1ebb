package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "baton.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_ParsesJobs(t *testing.T) {
	path := writeConfig(t, `
version: "1"
jobs:
  checkin:
    schedule: "30 7 * * *"
    command: ./checkin --once
    credentials: [SITE_USER, SITE_PASS]
    session:
      files: "*_uuid_and_cookie.json"
      retention_days: 14
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	j := cfg.Jobs["checkin"]
	if j == nil {
		t.Fatal("job checkin not parsed")
	}
	if j.Schedule != "30 7 * * *" {
		t.Errorf("schedule = %q", j.Schedule)
	}
	if len(j.Credentials) != 2 || j.Credentials[0] != "SITE_USER" {
		t.Errorf("credentials = %v", j.Credentials)
	}
	if j.Session.RetentionDays != 14 {
		t.Errorf("retention_days = %d", j.Session.RetentionDays)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("BATON_TEST_DIR", "/srv/baton")
	path := writeConfig(t, `
version: "1"
data_dir: ${BATON_TEST_DIR}
jobs:
  j:
    manual_only: true
    command: "true"
    session: {files: "*.json"}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/srv/baton" {
		t.Errorf("data_dir = %q, want /srv/baton", cfg.DataDir)
	}
}

func TestLoad_ExpandsDefaultValue(t *testing.T) {
	path := writeConfig(t, `
version: "1"
data_dir: ${BATON_UNSET_VAR:-/var/lib/baton}
jobs:
  j:
    manual_only: true
    command: "true"
    session: {files: "*.json"}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DataDir != "/var/lib/baton" {
		t.Errorf("data_dir = %q, want /var/lib/baton", cfg.DataDir)
	}
}

func TestLoad_UnresolvedVariable(t *testing.T) {
	path := writeConfig(t, `
version: "1"
data_dir: ${BATON_DEFINITELY_UNSET}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unresolved variable")
	}
	if !strings.Contains(err.Error(), "BATON_DEFINITELY_UNSET") {
		t.Errorf("error should name the variable: %v", err)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "version: [unterminated")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for bad YAML")
	}
	if !strings.Contains(err.Error(), "parsing") {
		t.Errorf("error should mention parsing: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "reading") {
		t.Errorf("error should mention reading: %v", err)
	}
}

func TestLocate_ExplicitWins(t *testing.T) {
	path, err := Locate("/etc/baton/custom.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/etc/baton/custom.yaml" {
		t.Errorf("path = %q", path)
	}
}

func TestLocate_XDGConfigHome(t *testing.T) {
	xdg := t.TempDir()
	dir := filepath.Join(xdg, "baton")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "baton.yaml")
	if err := os.WriteFile(want, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CONFIG_HOME", xdg)

	path, err := Locate("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestLocate_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, err := Locate("")
	if err == nil {
		t.Fatal("expected error when no candidate exists")
	}
	if !strings.Contains(err.Error(), "baton.yaml") {
		t.Errorf("error should mention baton.yaml: %v", err)
	}
}

func TestDefaultDataDir_XDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultDataDir(); got != filepath.Join("/custom/data", "baton") {
		t.Errorf("DefaultDataDir() = %q", got)
	}
}
