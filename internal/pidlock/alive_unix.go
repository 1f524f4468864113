//go:build !windows

package pidlock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given pid exists. EPERM counts as
// alive: the process is there, we just may not signal it.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
