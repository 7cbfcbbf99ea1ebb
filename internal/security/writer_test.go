package security

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedactingWriter_RedactsCompleteLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("secret-password-1")

	w := NewRedactingWriter(&buf, r)
	if _, err := w.Write([]byte("login with secret-password-1\nsecond line\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got := buf.String()
	if strings.Contains(got, "secret-password-1") {
		t.Errorf("secret found in output: %q", got)
	}
	want := "login with " + RedactPlaceholder + "\nsecond line\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRedactingWriter_SecretSplitAcrossWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("split-secret-value")

	w := NewRedactingWriter(&buf, r)
	_, _ = w.Write([]byte("token: split-sec"))
	_, _ = w.Write([]byte("ret-value done\n"))

	got := buf.String()
	if strings.Contains(got, "split-secret-value") {
		t.Errorf("secret reassembled across writes leaked: %q", got)
	}
}

func TestRedactingWriter_PartialLineHeldUntilFlush(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("trailing-secret-9")

	w := NewRedactingWriter(&buf, r)
	_, _ = w.Write([]byte("no newline trailing-secret-9"))

	if buf.Len() != 0 {
		t.Fatalf("partial line written before flush: %q", buf.String())
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got := buf.String()
	if strings.Contains(got, "trailing-secret-9") {
		t.Errorf("secret found after flush: %q", got)
	}
	if !strings.Contains(got, RedactPlaceholder) {
		t.Errorf("expected placeholder after flush: %q", got)
	}
}

func TestRedactingWriter_FlushEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, NewRedactor())
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush on empty buffer: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestRedactingWriter_ReportsFullLength(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, NewRedactor())

	p := []byte("partial without newline")
	n, err := w.Write(p)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(p) {
		t.Errorf("n = %d, want %d", n, len(p))
	}
}
