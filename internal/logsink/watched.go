package logsink

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"procfold/internal/metrics"
)

// Watched is a sink whose file may be rotated by an outside tool. Before each
// write it compares the path's device+inode against the handle it holds and
// transparently reopens when they differ or the path is gone.
type Watched struct {
	mu     sync.Mutex
	path   string
	format Format
	f      *os.File
	dev    uint64
	ino    uint64

	now func() time.Time
}

// OpenWatched opens (or creates) path in append mode. Errors are returned
// immediately: every capture path depends on this sink, so callers must not
// swallow them.
func OpenWatched(path string, format Format) (*Watched, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	w := &Watched{path: path, format: format, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watched) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", w.path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log %s: %w", w.path, err)
	}
	w.f = f
	w.dev = uint64(st.Dev)
	w.ino = uint64(st.Ino)
	return nil
}

// Accept writes one record, reopening first if the file was rotated away.
func (w *Watched) Accept(record string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rotated() {
		_ = w.f.Close()
		if err := w.open(); err != nil {
			return err
		}
		metrics.IncRotation("watched")
	}
	_, err := w.f.WriteString(w.format.terminate(record, w.now()))
	return err
}

// AcceptRaw writes chunk byte-verbatim, reopening first if the file was
// rotated away. No formatting or newline normalization is applied: a raw
// capture must not gain bytes the source never wrote, so a partial-line
// flush stays partial until the source terminates it.
func (w *Watched) AcceptRaw(chunk string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rotated() {
		_ = w.f.Close()
		if err := w.open(); err != nil {
			return err
		}
		metrics.IncRotation("watched")
	}
	_, err := w.f.WriteString(chunk)
	return err
}

// rotated reports whether the path now refers to a different file than the
// held handle, or to nothing at all.
func (w *Watched) rotated() bool {
	var st unix.Stat_t
	if err := unix.Stat(w.path, &st); err != nil {
		return true
	}
	return uint64(st.Dev) != w.dev || uint64(st.Ino) != w.ino
}

// Path returns the sink's target path.
func (w *Watched) Path() string { return w.path }

// Close releases the underlying file handle.
func (w *Watched) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
