// Package ratequeue buffers lines from producers and enforces a maximum
// throughput per time window. When a window fills, one elision marker takes
// the place of the first suppressed line and everything further in that
// window is dropped silently.
package ratequeue

import (
	"log/slog"
	"sync"
	"time"

	"procfold/internal/metrics"
	"procfold/internal/sink"
)

// DefaultMarker is the elision marker used when the caller supplies none.
const DefaultMarker = "..."

const pollInterval = 100 * time.Millisecond

// Verdict is a Window's disposition for one value.
type Verdict int

const (
	// Pass forwards the value unmodified.
	Pass Verdict = iota
	// Elide substitutes the single marker for this value.
	Elide
	// Drop suppresses the value silently.
	Drop
)

// Window counts values against a limit per rolling period. A nil Window, or
// one with no limit or period, passes everything.
//
// The counter conceptually starts at -1 so that exactly limit real values and
// one marker fit into a window that overflows: the marker is the limit+1-th
// item.
type Window struct {
	limit  int
	period time.Duration
	start  time.Time
	count  int
}

// NewWindow creates a window admitting limit values per period. limit <= 0 or
// period <= 0 disables limiting.
func NewWindow(limit int, period time.Duration, now time.Time) *Window {
	return &Window{limit: limit, period: period, start: now, count: -1}
}

// Admit classifies the next value arriving at time now.
func (w *Window) Admit(now time.Time) Verdict {
	if w == nil || w.limit <= 0 || w.period <= 0 {
		return Pass
	}
	w.count++
	if now.Sub(w.start) < w.period {
		if w.count == w.limit {
			return Elide
		}
		if w.count > w.limit {
			return Drop
		}
	} else {
		w.start = now
		w.count = 0
	}
	return Pass
}

// Config describes one queue stage.
type Config struct {
	// Limit and Period control the rate window; zero values disable limiting
	// and the queue becomes an ordered pass-through.
	Limit  int
	Period time.Duration
	// Marker replaces the first suppressed line. Chained per-source queues
	// supply a source-identifying label here; empty means DefaultMarker.
	Marker string
	// Source labels this stage in metrics and logs.
	Source string
	// Logger receives consumer-loop write failures. Nil means slog.Default.
	Logger *slog.Logger
}

// Queue buffers pushed lines without ever blocking the producer and drains
// them through a single consumer goroutine into out. A Queue is itself a
// Sink, so per-source queues can feed a shared downstream aggregating queue.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	wake   chan struct{}
	done   chan struct{}

	win    *Window
	marker string
	source string
	out    sink.Sink
	logger *slog.Logger

	now func() time.Time
}

// New starts a queue stage draining into out.
func New(cfg Config, out sink.Sink) *Queue {
	marker := cfg.Marker
	if marker == "" {
		marker = DefaultMarker
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := cfg.Source
	if source == "" {
		source = "global"
	}
	q := &Queue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		marker: marker,
		source: source,
		out:    out,
		logger: logger,
		now:    time.Now,
	}
	q.win = NewWindow(cfg.Limit, cfg.Period, q.now())
	go q.run()
	return q
}

// Push enqueues one line. It never blocks.
func (q *Queue) Push(line string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, line)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Accept makes Queue a Sink so stages chain.
func (q *Queue) Accept(line string) error {
	q.Push(line)
	return nil
}

// Close stops accepting new lines, lets the consumer drain what is already
// queued, and returns once the consumer has exited.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, line := range batch {
			switch q.win.Admit(q.now()) {
			case Pass:
				q.forward(line)
			case Elide:
				metrics.IncElision(q.source)
				q.forward(q.marker)
			case Drop:
				metrics.IncDrop(q.source)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-q.wake:
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) forward(line string) {
	if err := q.out.Accept(line); err != nil {
		q.logger.Error("ratequeue write failed", "source", q.source, "error", err)
	}
}
