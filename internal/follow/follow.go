// Package follow emits newly appended content from growing files. Followers
// poll with a short bounded sleep so they stay cooperatively cancellable via
// Finish; an optional fsnotify watcher can wake the poll early without
// changing the yielded sequence.
package follow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// PollInterval is the bounded sleep between polls when no new data is
// available.
const PollInterval = 100 * time.Millisecond

// DefaultChunkSize is the read size for byte followers when none is given.
const DefaultChunkSize = 1024

// LineFollower yields complete lines appended to a file, bufio.Scanner style:
//
//	f, err := Open(path, false)
//	for f.Scan() {
//	    use(f.Text())
//	}
//	err = f.Err()
//
// Scan blocks until a full line is available or Finish has been called and the
// file is exhausted. A trailing partial line with no newline yet is held back;
// when iteration finishes it is discarded, not delivered.
type LineFollower struct {
	f        *os.File
	path     string
	offset   int64
	buf      []byte
	lines    []string
	text     string
	err      error
	finished atomic.Bool
	waiter   waiter
}

// Open opens path for following. With tailOnly the cursor starts at the
// current end of file so pre-existing content is never yielded.
func Open(path string, tailOnly bool) (*LineFollower, error) {
	return openLines(path, tailOnly, sleepWaiter{})
}

// OpenWatched is Open with an fsnotify watcher waking the poll loop as soon
// as the file changes. Semantics are identical to Open; the watcher only
// shortens the idle wait.
func OpenWatched(path string, tailOnly bool) (*LineFollower, error) {
	w, err := newNotifyWaiter(path)
	if err != nil {
		return nil, err
	}
	lf, err := openLines(path, tailOnly, w)
	if err != nil {
		w.Close()
		return nil, err
	}
	return lf, nil
}

func openLines(path string, tailOnly bool, w waiter) (*LineFollower, error) {
	f, offset, err := openAt(path, tailOnly)
	if err != nil {
		return nil, err
	}
	return &LineFollower{f: f, path: path, offset: offset, waiter: w}, nil
}

// Finish requests cooperative termination. It takes effect on the follower's
// next poll cycle: remaining complete lines are still delivered, then Scan
// returns false.
func (l *LineFollower) Finish() { l.finished.Store(true) }

// Finished reports whether Finish has been called.
func (l *LineFollower) Finished() bool { return l.finished.Load() }

// Scan advances to the next complete line. It returns false when Finish has
// been requested and no complete line remains, or on a read error.
func (l *LineFollower) Scan() bool {
	for {
		if len(l.lines) > 0 {
			l.text = l.lines[0]
			l.lines = l.lines[1:]
			return true
		}
		n, err := l.read()
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				l.err = err
				return false
			}
			if l.finished.Load() {
				// Undelivered partial data in l.buf is dropped here on
				// purpose; see package docs.
				return false
			}
			l.checkTruncated()
			l.waiter.Wait(PollInterval)
		}
	}
}

// Text returns the line produced by the last successful Scan, without its
// trailing newline.
func (l *LineFollower) Text() string { return l.text }

// Err returns the first error encountered, if any. A clean Finish-driven stop
// leaves Err nil.
func (l *LineFollower) Err() error { return l.err }

// Close releases the underlying file. Safe to call after iteration ends on
// any path.
func (l *LineFollower) Close() error {
	l.waiter.Close()
	return l.f.Close()
}

func (l *LineFollower) read() (int, error) {
	chunk := make([]byte, 4096)
	n, err := l.f.Read(chunk)
	if n > 0 {
		l.offset += int64(n)
		l.buf = append(l.buf, chunk[:n]...)
		l.split()
	}
	return n, err
}

func (l *LineFollower) split() {
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			return
		}
		line := l.buf[:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		l.lines = append(l.lines, string(line))
		l.buf = l.buf[i+1:]
	}
}

// checkTruncated resets the cursor when the file shrank below it, e.g. after
// an in-place truncation by an external rotator.
func (l *LineFollower) checkTruncated() {
	info, err := l.f.Stat()
	if err != nil {
		return
	}
	if info.Size() < l.offset {
		if _, err := l.f.Seek(0, io.SeekStart); err == nil {
			l.offset = 0
			l.buf = nil
		}
	}
}

// ByteFollower yields raw appended chunks with no line buffering: every
// non-empty read is delivered immediately, up to chunkSize bytes at a time.
type ByteFollower struct {
	f         *os.File
	offset    int64
	chunkSize int
	chunk     []byte
	err       error
	finished  atomic.Bool
	waiter    waiter
}

// OpenBytes opens path for byte-mode following. chunkSize <= 0 selects
// DefaultChunkSize.
func OpenBytes(path string, tailOnly bool, chunkSize int) (*ByteFollower, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	f, offset, err := openAt(path, tailOnly)
	if err != nil {
		return nil, err
	}
	return &ByteFollower{f: f, offset: offset, chunkSize: chunkSize, waiter: sleepWaiter{}}, nil
}

// Finish requests cooperative termination, honored on the next poll cycle.
func (b *ByteFollower) Finish() { b.finished.Store(true) }

// Scan blocks until a chunk is available. It returns false once Finish has
// been requested and the file is exhausted, or on a read error.
func (b *ByteFollower) Scan() bool {
	buf := make([]byte, b.chunkSize)
	for {
		n, err := b.f.Read(buf)
		if n > 0 {
			b.offset += int64(n)
			b.chunk = buf[:n]
			return true
		}
		if err != nil && !errors.Is(err, io.EOF) {
			b.err = err
			return false
		}
		if b.finished.Load() {
			return false
		}
		b.checkTruncated()
		b.waiter.Wait(PollInterval)
	}
}

// Bytes returns the chunk produced by the last successful Scan. The slice is
// owned by the caller until the next Scan.
func (b *ByteFollower) Bytes() []byte { return b.chunk }

// Err returns the first error encountered, if any.
func (b *ByteFollower) Err() error { return b.err }

// Close releases the underlying file.
func (b *ByteFollower) Close() error {
	b.waiter.Close()
	return b.f.Close()
}

func (b *ByteFollower) checkTruncated() {
	info, err := b.f.Stat()
	if err != nil {
		return
	}
	if info.Size() < b.offset {
		if _, err := b.f.Seek(0, io.SeekStart); err == nil {
			b.offset = 0
		}
	}
}

func openAt(path string, tailOnly bool) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	var offset int64
	if tailOnly {
		offset, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			_ = f.Close()
			return nil, 0, fmt.Errorf("seek %s: %w", path, err)
		}
	}
	return f, offset, nil
}
