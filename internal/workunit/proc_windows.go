//go:build windows

package workunit

import (
	"os"
	"os/exec"
)

// Process groups are a POSIX concept. On Windows only the direct child
// is signaled, and there is no graceful variant.
func setProcessGroup(_ *exec.Cmd) {}

func terminate(p *os.Process) {
	if p == nil {
		return
	}
	_ = p.Kill()
}

func kill(p *os.Process) {
	if p == nil {
		return
	}
	_ = p.Kill()
}
