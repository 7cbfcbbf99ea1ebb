package security

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "daily-sync", false},
		{"artifact slot", "instagram-session", false},
		{"with dots", "job.v2", false},
		{"with underscore", "job_name", false},
		{"single char", "a", false},
		{"digits", "job42", false},
		{"empty", "", true},
		{"leading dot", ".hidden", true},
		{"leading dash", "-flag", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"space", "a b", true},
		{"traversal", "a..b", true},
		{"parent dir", "..", true},
		{"too long", strings.Repeat("a", MaxNameLength+1), true},
		{"max length ok", strings.Repeat("a", MaxNameLength), false},
		{"null byte", "a\x00b", true},
		{"shell metachar", "a;b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateName(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateName(%q) = nil, want error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateName(%q) = %v, want nil", tt.input, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("error %v should wrap ErrInvalidName", err)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple file", "botuser_uuid_and_cookie.json", false},
		{"nested", "state/session.json", false},
		{"deeply nested", "a/b/c.txt", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../outside", true},
		{"embedded traversal", "a/../../b", true},
		{"current dir component", "./file", true},
		{"double slash", "a//b", true},
		{"trailing slash", "a/", true},
		{"backslash", `a\b`, true},
		{"windows absolute", `\temp\x`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRelativePath(tt.input)
			if tt.wantErr && err == nil {
				t.Errorf("ValidateRelativePath(%q) = nil, want error", tt.input)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateRelativePath(%q) = %v, want nil", tt.input, err)
			}
		})
	}
}
