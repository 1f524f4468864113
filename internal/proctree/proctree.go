// Package proctree enumerates process descendants and delivers signals to
// whole trees, used for graceful-then-forceful shutdown sequences.
package proctree

import (
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// waitPoll is the interval between liveness checks while waiting for a
// signaled phase to take effect.
const waitPoll = 100 * time.Millisecond

// Tree returns the process with the given pid followed by all of its
// descendants, root first, each exactly once. A pid that no longer exists
// yields an empty slice, not an error. The snapshot is not live-updated;
// callers needing freshness take a new one.
func Tree(pid int) []*process.Process {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	var out []*process.Process
	seen := map[int32]bool{}
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p.Pid] {
			continue
		}
		seen[p.Pid] = true
		out = append(out, p)
		kids, err := p.Children()
		if err != nil {
			continue
		}
		queue = append(queue, kids...)
	}
	return out
}

// SignalAll delivers sig to every still-running process in procs. A process
// that disappeared between listing and signaling, or that rejects the signal,
// is skipped; unexpected errors are logged and the sweep continues.
func SignalAll(procs []*process.Process, sig syscall.Signal, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range procs {
		running, err := p.IsRunning()
		if err != nil || !running {
			continue
		}
		if err := p.SendSignal(sig); err != nil {
			if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
				// Gone, or not ours to signal.
				continue
			}
			logger.Error("signal delivery failed", "pid", p.Pid, "signal", sig.String(), "error", err)
		}
	}
}

// Shutdown escalates through the given signal phases (defaulting to
// SIGTERM then SIGKILL) against pid. The tree is re-snapshotted at each phase
// to catch processes spawned since the previous one; in the recursive variant
// newly discovered processes are unioned with those already known, so a child
// orphaned by an earlier phase still receives later signals. Between phases
// it waits up to grace for everything known to exit.
func Shutdown(pid int, recursive bool, grace time.Duration, logger *slog.Logger, phases ...syscall.Signal) {
	if len(phases) == 0 {
		phases = []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL}
	}
	known := map[int32]*process.Process{}
	for i, sig := range phases {
		procs := snapshot(pid, recursive, known)
		if len(procs) == 0 {
			return
		}
		SignalAll(procs, sig, logger)
		if i == len(phases)-1 {
			return
		}
		if allGone(procs, grace) {
			return
		}
	}
}

func snapshot(pid int, recursive bool, known map[int32]*process.Process) []*process.Process {
	if !recursive {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			return nil
		}
		return []*process.Process{p}
	}
	for _, p := range Tree(pid) {
		known[p.Pid] = p
	}
	out := make([]*process.Process, 0, len(known))
	for _, p := range known {
		out = append(out, p)
	}
	return out
}

func allGone(procs []*process.Process, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for {
		gone := true
		for _, p := range procs {
			if running, err := p.IsRunning(); err == nil && running {
				gone = false
				break
			}
		}
		if gone {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(waitPoll)
	}
}
