// Package pump drains process output pipes into sinks. Each pipe gets its own
// goroutine running one pump; stdout and stderr are never drained in
// lockstep, so a slow sibling cannot deadlock the child.
package pump

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"

	"procfold/internal/metrics"
	"procfold/internal/sink"
)

// ChunkSize is the read size for raw-byte pumps.
const ChunkSize = 65536

// Raw forwards r to s in chunks of up to ChunkSize bytes, unmodified. It
// returns nil on end of stream (zero-length read) and the underlying error
// otherwise.
func Raw(r io.Reader, s sink.Sink) error {
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			metrics.AddPumpBytes(n)
			if serr := s.Accept(string(buf[:n])); serr != nil {
				return serr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Capture is an append-only line buffer. It is safe for concurrent append
// from a pump goroutine and for reads after the pump has been joined.
type Capture struct {
	mu    sync.Mutex
	lines []string
}

func (c *Capture) add(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

// Lines returns a copy of everything captured so far.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Len returns the number of captured lines.
func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Line is a line-buffered pump. Each input line is stripped of its trailing
// newline, decorated with Prefix and Postfix, re-terminated with exactly one
// newline and forwarded. When Capture is set the undecorated line is also
// recorded for later retrieval.
type Line struct {
	Prefix  string
	Postfix string
	Capture *Capture
}

// Flow runs the pump until r reports end of stream, then returns nil. Sink
// and read errors are returned as-is.
func (p Line) Flow(r io.Reader, s sink.Sink) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			text := strings.TrimRight(line, "\r\n")
			metrics.IncPumpLines()
			if p.Capture != nil {
				p.Capture.add(text)
			}
			if serr := s.Accept(p.Prefix + text + p.Postfix + "\n"); serr != nil {
				return serr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
