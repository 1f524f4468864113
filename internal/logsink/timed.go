package logsink

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"

	"procfold/internal/metrics"
)

// When names the unit of a timed rotation schedule.
type When string

const (
	WhenSecond   When = "second"
	WhenMinute   When = "minute"
	WhenHour     When = "hour"
	WhenDay      When = "day"
	WhenMidnight When = "midnight"
	// Weekday schedules are "w0".."w6" with 0 = Monday, matching the
	// rotation trigger inputs the CLI accepts.
	WhenW0 When = "w0"
	WhenW1 When = "w1"
	WhenW2 When = "w2"
	WhenW3 When = "w3"
	WhenW4 When = "w4"
	WhenW5 When = "w5"
	WhenW6 When = "w6"
)

// TimedPolicy configures internal rotation.
type TimedPolicy struct {
	When        When
	Interval    int
	BackupCount int
}

// Validate fails fast on configuration errors, before anything is opened or
// detached.
func (p TimedPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("rotation interval must be positive, got %d", p.Interval)
	}
	if p.BackupCount < 0 {
		return fmt.Errorf("rotation backup count must not be negative, got %d", p.BackupCount)
	}
	switch p.When {
	case WhenSecond, WhenMinute, WhenHour, WhenDay, WhenMidnight,
		WhenW0, WhenW1, WhenW2, WhenW3, WhenW4, WhenW5, WhenW6:
		return nil
	default:
		return fmt.Errorf("unknown rotation unit %q", p.When)
	}
}

// suffixLayout is the strftime layout used for archive name suffixes; coarser
// schedules use shorter suffixes so archives stay readable and sortable.
func (p TimedPolicy) suffixLayout() string {
	switch p.When {
	case WhenSecond:
		return "%Y-%m-%d_%H-%M-%S"
	case WhenMinute:
		return "%Y-%m-%d_%H-%M"
	case WhenHour:
		return "%Y-%m-%d_%H"
	default:
		return "%Y-%m-%d"
	}
}

func (p TimedPolicy) weekday() (time.Weekday, bool) {
	if len(p.When) == 2 && p.When[0] == 'w' {
		// w0 is Monday.
		return time.Weekday((int(p.When[1]-'0') + 1) % 7), true
	}
	return 0, false
}

// nextRollover computes the first rotation instant strictly after now.
func (p TimedPolicy) nextRollover(now time.Time) time.Time {
	switch p.When {
	case WhenSecond:
		return now.Add(time.Duration(p.Interval) * time.Second)
	case WhenMinute:
		return now.Add(time.Duration(p.Interval) * time.Minute)
	case WhenHour:
		return now.Add(time.Duration(p.Interval) * time.Hour)
	case WhenDay:
		return now.Add(time.Duration(p.Interval) * 24 * time.Hour)
	case WhenMidnight:
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		if p.Interval > 1 {
			next = next.AddDate(0, 0, p.Interval-1)
		}
		return next
	default:
		wd, _ := p.weekday()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		for {
			next = next.AddDate(0, 0, 1)
			if next.Weekday() == wd {
				return next
			}
		}
	}
}

// Timed is a sink that rotates its own file on a schedule, archiving the
// current file as <path>.<timestamp> and keeping at most BackupCount
// archives.
type Timed struct {
	mu         sync.Mutex
	path       string
	format     Format
	policy     TimedPolicy
	f          *os.File
	rolloverAt time.Time

	now func() time.Time
}

// OpenTimed opens (or creates) path in append mode with the given rotation
// policy. Policy and format errors fail fast.
func OpenTimed(path string, format Format, policy TimedPolicy) (*Timed, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	t := &Timed{path: path, format: format, policy: policy, now: time.Now}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	t.f = f
	t.rolloverAt = policy.nextRollover(t.now())
	return t, nil
}

// Accept writes one record, rotating first when the schedule says so.
func (t *Timed) Accept(record string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !now.Before(t.rolloverAt) {
		if err := t.rotate(now); err != nil {
			return err
		}
	}
	_, err := t.f.WriteString(t.format.terminate(record, now))
	return err
}

// AcceptRaw writes chunk byte-verbatim, rotating first when the schedule
// says so. No formatting or newline normalization is applied.
func (t *Timed) AcceptRaw(chunk string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if !now.Before(t.rolloverAt) {
		if err := t.rotate(now); err != nil {
			return err
		}
	}
	_, err := t.f.WriteString(chunk)
	return err
}

func (t *Timed) rotate(now time.Time) error {
	_ = t.f.Close()
	archive := t.path + "." + strftime.Format(t.policy.suffixLayout(), now)
	if _, err := os.Stat(archive); err == nil {
		_ = os.Remove(archive)
	}
	if err := os.Rename(t.path, archive); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive log %s: %w", t.path, err)
	}
	t.prune()
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen log %s: %w", t.path, err)
	}
	t.f = f
	for !now.Before(t.rolloverAt) {
		t.rolloverAt = t.policy.nextRollover(t.rolloverAt)
	}
	metrics.IncRotation("timed")
	return nil
}

// prune removes the oldest archives beyond BackupCount. Archive suffixes sort
// lexicographically in time order, so a name sort is enough.
func (t *Timed) prune() {
	dir := filepath.Dir(t.path)
	base := filepath.Base(t.path) + "."
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var archives []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base) {
			archives = append(archives, e.Name())
		}
	}
	if len(archives) <= t.policy.BackupCount {
		return
	}
	sort.Strings(archives)
	for _, name := range archives[:len(archives)-t.policy.BackupCount] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}

// Path returns the sink's target path.
func (t *Timed) Path() string { return t.path }

// Close releases the underlying file handle.
func (t *Timed) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Close()
}
