package main

import (
	"slices"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/baton/internal/config"
)

func TestValidateSchedule(t *testing.T) {
	if err := validateSchedule("30 7 * * *"); err != nil {
		t.Errorf("valid schedule rejected: %v", err)
	}
	if err := validateSchedule("@daily"); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
	if err := validateSchedule("99 99 * * *"); err == nil {
		t.Error("out-of-range schedule accepted")
	}
	if err := validateSchedule("not cron"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestValidateGlob(t *testing.T) {
	if err := validateGlob("*_uuid_and_cookie.json"); err != nil {
		t.Errorf("valid glob rejected: %v", err)
	}
	if err := validateGlob(""); err == nil {
		t.Error("empty glob accepted")
	}
	if err := validateGlob("state/[invalid"); err == nil {
		t.Error("unclosed class accepted")
	}
}

func TestValidateCredentialList(t *testing.T) {
	if err := validateCredentialList(""); err != nil {
		t.Errorf("empty list rejected: %v", err)
	}
	if err := validateCredentialList("AIRLINE_USER, AIRLINE_PASSWORD"); err != nil {
		t.Errorf("valid list rejected: %v", err)
	}
	if err := validateCredentialList("NOT-A-NAME"); err == nil {
		t.Error("dashed name accepted")
	}
	if err := validateCredentialList("9STARTS_WITH_DIGIT"); err == nil {
		t.Error("leading digit accepted")
	}
}

func TestValidateDays(t *testing.T) {
	for _, ok := range []string{"", "1", "14"} {
		if err := validateDays(ok); err != nil {
			t.Errorf("validateDays(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"0", "-1", "two weeks"} {
		if err := validateDays(bad); err == nil {
			t.Errorf("validateDays(%q) accepted", bad)
		}
	}
}

func TestSplitCredentials(t *testing.T) {
	got := splitCredentials(" AIRLINE_USER ,AIRLINE_PASSWORD,  ,")
	want := []string{"AIRLINE_USER", "AIRLINE_PASSWORD"}
	if !slices.Equal(got, want) {
		t.Errorf("splitCredentials = %v, want %v", got, want)
	}
	if got := splitCredentials(""); got != nil {
		t.Errorf("empty input should yield nil, got %v", got)
	}
}

func TestWizardConfig(t *testing.T) {
	w := wizardAnswers{
		jobName:     "checkin",
		schedule:    "30 7 * * *",
		command:     "./checkin --once",
		files:       "*_uuid_and_cookie.json",
		credentials: "AIRLINE_USER, AIRLINE_PASSWORD",
		retention:   "14",
	}

	data, err := yaml.Marshal(w.config())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cfg.ApplyDefaults()
	if err := config.Validate(&cfg); err != nil {
		t.Fatalf("generated config invalid: %v", err)
	}

	j := cfg.Jobs["checkin"]
	if j == nil {
		t.Fatal("job missing after round-trip")
	}
	if j.Schedule != "30 7 * * *" || j.Command != "./checkin --once" {
		t.Errorf("job fields lost: %+v", j)
	}
	if j.Session.Files != "*_uuid_and_cookie.json" || j.Session.RetentionDays != 14 {
		t.Errorf("session fields lost: %+v", j.Session)
	}
	if !slices.Equal(j.Credentials, []string{"AIRLINE_USER", "AIRLINE_PASSWORD"}) {
		t.Errorf("credentials lost: %v", j.Credentials)
	}
	if j.Session.Artifact != "checkin-session" {
		t.Errorf("artifact default not applied: %q", j.Session.Artifact)
	}
}
