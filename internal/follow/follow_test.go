package follow

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

func collect(t *testing.T, l *LineFollower) []string {
	t.Helper()
	var got []string
	for l.Scan() {
		got = append(got, l.Text())
	}
	if err := l.Err(); err != nil {
		t.Fatalf("follow: %v", err)
	}
	return got
}

func TestLineFollowerYieldsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "one\ntwo\nthree\n")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = l.Close() }()
	l.Finish()
	got := collect(t, l)
	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestLineFollowerTailOnlySkipsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "old\n")
	l, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = l.Close() }()

	appendFile(t, path, "new\n")
	done := make(chan string, 1)
	go func() {
		if l.Scan() {
			done <- l.Text()
		}
		close(done)
	}()
	select {
	case line := <-done:
		if line != "new" {
			t.Fatalf("got %q want %q", line, "new")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for appended line")
	}
	l.Finish()
	for l.Scan() {
	}
}

func TestLineFollowerDiscardsPartialLineOnFinish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "whole\npartial")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = l.Close() }()
	l.Finish()
	got := collect(t, l)
	if len(got) != 1 || got[0] != "whole" {
		t.Fatalf("got %v, want only the complete line", got)
	}
}

func TestLineFollowerStripsCarriageReturn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "dos\r\nunix\n")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = l.Close() }()
	l.Finish()
	got := collect(t, l)
	if len(got) != 2 || got[0] != "dos" || got[1] != "unix" {
		t.Fatalf("got %v", got)
	}
}

func TestLineFollowerTruncationResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.log")
	writeFile(t, path, "first\nsecond\n")
	l, err := Open(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = l.Close() }()

	lines := make(chan string, 16)
	go func() {
		for l.Scan() {
			lines <- l.Text()
		}
		close(lines)
	}()
	for _, want := range []string{"first", "second"} {
		select {
		case got := <-lines:
			if got != want {
				t.Fatalf("got %q want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out")
		}
	}

	// In-place truncation: the cursor snaps back to the start.
	writeFile(t, path, "fresh\n")
	select {
	case got := <-lines:
		if got != "fresh" {
			t.Fatalf("got %q want %q", got, "fresh")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out after truncation")
	}
	l.Finish()
	for range lines {
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestByteFollowerDeliversChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, path, "abcdef")
	b, err := OpenBytes(path, false, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = b.Close() }()
	b.Finish()
	var got []byte
	for b.Scan() {
		got = append(got, b.Bytes()...)
	}
	if err := b.Err(); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("got %q", got)
	}
}

func TestByteFollowerNoLineBuffering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.bin")
	writeFile(t, path, "no newline here")
	b, err := OpenBytes(path, false, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = b.Close() }()
	if !b.Scan() {
		t.Fatalf("expected a chunk, err=%v", b.Err())
	}
	if string(b.Bytes()) != "no newline here" {
		t.Fatalf("got %q", b.Bytes())
	}
	b.Finish()
	for b.Scan() {
	}
}

func TestOpenWatchedYieldsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.log")
	writeFile(t, path, "")
	l, err := OpenWatched(path, false)
	if err != nil {
		t.Fatalf("open watched: %v", err)
	}
	defer func() { _ = l.Close() }()

	appendFile(t, path, "hello\n")
	done := make(chan string, 1)
	go func() {
		if l.Scan() {
			done <- l.Text()
		}
		close(done)
	}()
	select {
	case line := <-done:
		if line != "hello" {
			t.Fatalf("got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	l.Finish()
	for l.Scan() {
	}
}
