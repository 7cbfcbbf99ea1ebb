//go:build unix

package workunit

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup places the child in its own process group so signals
// reach the whole tree, including anything the shell spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks the child's process group to exit.
func terminate(p *os.Process) {
	if p == nil {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGTERM)
}

// kill ends the child's process group immediately.
func kill(p *os.Process) {
	if p == nil {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
}
