// Package workunittest provides a scriptable Unit for testing code that
// executes commands.
package workunittest

import (
	"context"
	"sync"

	"github.com/flemzord/baton/internal/workunit"
)

// Call records one invocation handed to the stub.
type Call struct {
	Command string
	Dir     string
	Env     []string
}

// Unit is a scriptable workunit.Unit. If Script is nil every invocation
// succeeds with exit code 0; otherwise Script decides per invocation and
// may write to inv.Stdout and inv.Stderr to simulate output.
type Unit struct {
	mu     sync.Mutex
	calls  []Call
	Script func(inv workunit.Invocation) (workunit.Result, error)
}

var _ workunit.Unit = (*Unit)(nil)

// Run records the invocation and consults Script. A canceled context
// wins over the script, mirroring the real executor.
func (u *Unit) Run(ctx context.Context, inv workunit.Invocation) (workunit.Result, error) {
	u.mu.Lock()
	u.calls = append(u.calls, Call{
		Command: inv.Command,
		Dir:     inv.Dir,
		Env:     append([]string(nil), inv.Env...),
	})
	script := u.Script
	u.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return workunit.Result{ExitCode: -1}, err
	}
	if script != nil {
		return script(inv)
	}
	return workunit.Result{}, nil
}

// Calls returns a copy of the recorded invocations.
func (u *Unit) Calls() []Call {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Call(nil), u.calls...)
}
