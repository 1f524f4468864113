//go:build !windows

package daemon

import (
	"os/exec"
	"syscall"
)

// detachAttrs puts the re-executed copy in its own session so it survives
// the invoking terminal.
func detachAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// childAttrs gives the supervised command its own process group so tree
// signaling can address it without touching the daemon.
func childAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
