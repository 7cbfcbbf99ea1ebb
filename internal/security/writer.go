package security

import (
	"bytes"
	"io"
	"sync"
)

// RedactingWriter wraps an io.Writer and applies a Redactor to each line
// before forwarding it. Captured job output flows through one of these on
// its way to the per-run log file. Output is buffered per line so a
// secret split across Write calls within one line is still caught; a
// secret split across a line boundary is not, which matches how the
// regex patterns work elsewhere.
type RedactingWriter struct {
	mu       sync.Mutex
	dst      io.Writer
	redactor *Redactor
	buf      bytes.Buffer
}

// NewRedactingWriter creates a writer forwarding redacted lines to dst.
func NewRedactingWriter(dst io.Writer, redactor *Redactor) *RedactingWriter {
	return &RedactingWriter{
		dst:      dst,
		redactor: redactor,
	}
}

// Write buffers p and forwards every complete line through the redactor.
// It always reports len(p) consumed so upstream io.Copy calls do not
// stall on partial lines.
func (w *RedactingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Partial line: the buffer is drained at this point, so
			// writing the remainder back restores it exactly.
			w.buf.WriteString(line)
			break
		}
		if _, err := io.WriteString(w.dst, w.redactor.Redact(line)); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush writes any buffered partial line through the redactor. Call it
// once the producing process has exited.
func (w *RedactingWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := w.buf.String()
	w.buf.Reset()
	_, err := io.WriteString(w.dst, w.redactor.Redact(line))
	return err
}
