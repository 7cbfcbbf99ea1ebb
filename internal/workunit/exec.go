package workunit

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Execution defaults.
const (
	defaultShell = "sh"
	defaultGrace = 5 * time.Second
)

// Exec runs invocations through the shell. The child is placed in its
// own process group so cancellation reaches the whole tree: first a
// graceful terminate, then a hard kill once the grace period expires.
// Children get a chance to flush session state before dying, which
// matters for persisting after a timeout.
type Exec struct {
	// Shell is the interpreter binary. Defaults to "sh".
	Shell string

	// Grace is how long a terminated process group gets to exit before
	// it is killed. Defaults to 5s.
	Grace time.Duration
}

var _ Unit = (*Exec)(nil)

// Run executes the invocation and blocks until the command exits or the
// context is canceled. On cancellation the error is ctx.Err(), so
// callers can tell a timeout from a shutdown.
func (e *Exec) Run(ctx context.Context, inv Invocation) (Result, error) {
	if strings.TrimSpace(inv.Command) == "" {
		return Result{ExitCode: -1}, errors.New("empty command")
	}

	shell := e.Shell
	if shell == "" {
		shell = defaultShell
	}

	//nolint:gosec // the command is operator-written job config.
	cmd := exec.Command(shell, "-c", inv.Command)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	if cmd.Env == nil {
		// nil means inherit the parent environment; never do that.
		cmd.Env = []string{}
	}
	cmd.Stdout = inv.Stdout
	cmd.Stderr = inv.Stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		terminate(cmd.Process)

		grace := e.Grace
		if grace <= 0 {
			grace = defaultGrace
		}
		timer := time.NewTimer(grace)
		select {
		case <-timer.C:
			kill(cmd.Process)
			<-done
		case <-done:
			timer.Stop()
		}
		return Result{ExitCode: -1}, ctx.Err()
	case waitErr = <-done:
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode()}, nil
		}
		return Result{ExitCode: -1}, fmt.Errorf("wait for command: %w", waitErr)
	}
	return Result{ExitCode: 0}, nil
}
