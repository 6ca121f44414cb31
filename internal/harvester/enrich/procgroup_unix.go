//go:build unix

package enrich

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts cmd in its own process group so that killProcessGroup also reaches its children.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
