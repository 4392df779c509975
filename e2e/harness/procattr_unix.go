//go:build !windows

package harness

import (
	"os/exec"
	"syscall"
)

// configureProcAttr puts the subject in its own process group so that it
// and every descendant can be killed together on cleanup.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
