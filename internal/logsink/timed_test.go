package logsink

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTimedPolicyValidate(t *testing.T) {
	bad := []TimedPolicy{
		{When: WhenHour, Interval: 0},
		{When: WhenHour, Interval: -1},
		{When: WhenHour, Interval: 1, BackupCount: -1},
		{When: "fortnight", Interval: 1},
	}
	for _, p := range bad {
		if err := p.Validate(); err == nil {
			t.Fatalf("policy %+v should fail validation", p)
		}
	}
	if err := (TimedPolicy{When: WhenMidnight, Interval: 1}).Validate(); err != nil {
		t.Fatalf("valid policy rejected: %v", err)
	}
}

func TestNextRolloverIntervals(t *testing.T) {
	base := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC) // a Tuesday
	cases := []struct {
		p    TimedPolicy
		want time.Time
	}{
		{TimedPolicy{When: WhenSecond, Interval: 30}, base.Add(30 * time.Second)},
		{TimedPolicy{When: WhenMinute, Interval: 5}, base.Add(5 * time.Minute)},
		{TimedPolicy{When: WhenHour, Interval: 2}, base.Add(2 * time.Hour)},
		{TimedPolicy{When: WhenDay, Interval: 1}, base.Add(24 * time.Hour)},
		{TimedPolicy{When: WhenMidnight, Interval: 1}, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		// w0 is Monday; the next Monday after a Tuesday is six days out.
		{TimedPolicy{When: WhenW0, Interval: 1}, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		if got := c.p.nextRollover(base); !got.Equal(c.want) {
			t.Fatalf("%+v: got %v want %v", c.p, got, c.want)
		}
	}
}

func TestTimedRotatesAndPrunes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	ts, err := OpenTimed(path, Format{}, TimedPolicy{When: WhenSecond, Interval: 1, BackupCount: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = ts.Close() }()

	clock := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return clock }
	ts.rolloverAt = TimedPolicy{When: WhenSecond, Interval: 1}.nextRollover(clock)

	for i := 0; i < 4; i++ {
		if err := ts.Accept("tick"); err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		clock = clock.Add(time.Second)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	archives := 0
	live := false
	for _, e := range entries {
		switch {
		case e.Name() == "out.log":
			live = true
		default:
			archives++
		}
	}
	if !live {
		t.Fatal("live file missing after rotation")
	}
	if archives != 2 {
		t.Fatalf("got %d archives, want 2 after pruning", archives)
	}
}

func TestTimedArchiveSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	ts, err := OpenTimed(path, Format{}, TimedPolicy{When: WhenSecond, Interval: 1, BackupCount: 5})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = ts.Close() }()

	clock := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return clock }
	ts.rolloverAt = clock // force rotation on next write
	clock = clock.Add(time.Second)
	if err := ts.Accept("x"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	want := path + ".2024-03-05_10-00-01"
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("archive %s missing: %v", want, err)
	}
}

func TestSizedWritesFormattedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	s, err := OpenSized(path, Format{}, SizedPolicy{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.Accept("hello"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("got %q", b)
	}
}
