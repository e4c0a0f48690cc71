// SPDX-License-Identifier: MIT

//go:build unix

package media

import (
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup makes the child the leader of a fresh process group so a
// later kill reaps helpers it spawned too.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM to the group, escalating to SIGKILL after
// the grace period.
func killProcessGroup(cmd *exec.Cmd, grace time.Duration) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	time.AfterFunc(grace, func() {
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	})
}
