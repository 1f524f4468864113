package proctree

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestTreeIncludesSelf(t *testing.T) {
	procs := Tree(os.Getpid())
	if len(procs) == 0 {
		t.Fatal("tree for current process is empty")
	}
	if int(procs[0].Pid) != os.Getpid() {
		t.Fatalf("root pid %d, want %d", procs[0].Pid, os.Getpid())
	}
}

func TestTreeMissingProcess(t *testing.T) {
	// A pid far beyond any default pid_max.
	if procs := Tree(1 << 30); procs != nil {
		t.Fatalf("expected nil tree, got %d procs", len(procs))
	}
}

func TestTreeFindsChildren(t *testing.T) {
	requireUnix(t)
	cmd := exec.Command("sh", "-c", "sleep 5 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	deadline := time.After(3 * time.Second)
	for {
		procs := Tree(cmd.Process.Pid)
		if len(procs) >= 2 {
			if int(procs[0].Pid) != cmd.Process.Pid {
				t.Fatalf("root pid %d, want %d", procs[0].Pid, cmd.Process.Pid)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("child never appeared in tree, got %d procs", len(procs))
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestShutdownTerminatesTree(t *testing.T) {
	requireUnix(t)
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	Shutdown(pid, true, 2*time.Second, nil)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived shutdown")
	}
}

func TestShutdownMissingProcessIsNoop(t *testing.T) {
	Shutdown(1<<30, true, 100*time.Millisecond, nil)
}

func TestShutdownCustomPhases(t *testing.T) {
	requireUnix(t)
	// A child that ignores TERM only falls to the KILL phase.
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	Shutdown(cmd.Process.Pid, false, 500*time.Millisecond, nil, syscall.SIGTERM, syscall.SIGKILL)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived kill phase")
	}
}
