// Package workunit abstracts shell command execution so the engine can
// be driven in tests without spawning processes. The real implementation
// runs commands through the shell with an allowlisted environment and
// process group isolation.
package workunit

import (
	"context"
	"io"
)

// Invocation describes one command execution.
type Invocation struct {
	// Command is handed to the shell verbatim.
	Command string

	// Dir is the working directory.
	Dir string

	// Env is the complete environment for the command. Nothing is
	// inherited from the daemon; an empty slice means an empty
	// environment, not os.Environ().
	Env []string

	// Stdout and Stderr receive the command's output. Either may be nil.
	Stdout io.Writer
	Stderr io.Writer
}

// Result carries the exit status of a completed invocation.
type Result struct {
	// ExitCode is the command's exit code, or -1 when it never ran or
	// was killed before exiting on its own.
	ExitCode int
}

// Unit executes invocations. A non-zero exit code is not an error;
// the error return is reserved for failure to execute at all and for
// context cancellation.
type Unit interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}
