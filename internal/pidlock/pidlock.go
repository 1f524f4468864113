// Package pidlock implements an advisory, inter-process, exclusive lock
// backed by a plain pidfile plus a flock-held sidecar at <path>.lock. The
// sidecar serializes acquire attempts so stale-lock breaking never races
// another acquirer.
package pidlock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// Result is the outcome of an acquire attempt.
type Result int

const (
	// Acquired means the lock is now held and the pidfile written.
	Acquired Result = iota
	// Contended means a live process already holds the lock; nothing was
	// modified.
	Contended
	// StaleReclaimed means a pidfile from a dead process was removed and the
	// lock is now held.
	StaleReclaimed
)

func (r Result) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case Contended:
		return "contended"
	case StaleReclaimed:
		return "stale-reclaimed"
	default:
		return "unknown"
	}
}

// ErrNotAcquired is returned by Release when the lock was never successfully
// acquired.
var ErrNotAcquired = errors.New("pidlock: release without successful acquire")

// Lock is a single-use pidfile lock. Acquire and Release must be called as a
// strict pair; nested acquisition is not supported.
type Lock struct {
	path     string
	lockPath string
	fl       *flock.Flock
	ownerPID int
	held     bool
}

// New creates a lock for the given pidfile path. The sidecar lives at
// <path>.lock.
func New(path string) *Lock {
	lp := path + ".lock"
	return &Lock{path: path, lockPath: lp, fl: flock.New(lp)}
}

// Path returns the pidfile path.
func (l *Lock) Path() string { return l.path }

// LockPath returns the sidecar lock path.
func (l *Lock) LockPath() string { return l.lockPath }

// OwnerPID returns the pid written while held, zero otherwise.
func (l *Lock) OwnerPID() int { return l.ownerPID }

// Acquire takes the sidecar flock, inspects any pre-existing pidfile, breaks
// it when its recorded process is dead, and creates the pidfile exclusively
// with the given pid. On Contended nothing on disk is modified. The sidecar
// flock stays held until Release.
func (l *Lock) Acquire(pid int) (Result, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return Contended, fmt.Errorf("lock %s: %w", l.lockPath, err)
	}
	if !ok {
		// Another process holds the sidecar, either racing an acquire or
		// holding the lock for its lifetime.
		return Contended, nil
	}

	stale := false
	switch owner, rerr := ReadPID(l.path); {
	case rerr == nil && Alive(owner):
		_ = l.fl.Unlock()
		return Contended, nil
	case rerr == nil || !errors.Is(rerr, os.ErrNotExist):
		// Dead owner or unreadable pidfile: both are stale.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			_ = l.fl.Unlock()
			return Contended, fmt.Errorf("break stale pidfile %s: %w", l.path, err)
		}
		stale = true
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		_ = l.fl.Unlock()
		if os.IsExist(err) {
			return Contended, nil
		}
		return Contended, fmt.Errorf("create pidfile %s: %w", l.path, err)
	}
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		_ = l.fl.Unlock()
		return Contended, fmt.Errorf("write pidfile %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		_ = l.fl.Unlock()
		return Contended, fmt.Errorf("sync pidfile %s: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		_ = l.fl.Unlock()
		return Contended, err
	}

	l.ownerPID = pid
	l.held = true
	if stale {
		return StaleReclaimed, nil
	}
	return Acquired, nil
}

// Release removes the pidfile, drops the sidecar flock and deletes the
// sidecar file. It errors when called without a successful Acquire.
func (l *Lock) Release() error {
	if !l.held {
		return ErrNotAcquired
	}
	l.held = false
	l.ownerPID = 0
	err := os.Remove(l.path)
	if uerr := l.fl.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	_ = os.Remove(l.lockPath)
	return err
}

// ReadPID reads a pidfile written by Acquire: the decimal pid on the first
// line, nothing else required.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	return pid, nil
}
