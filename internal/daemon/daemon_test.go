package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"procfold/internal/history"
	"procfold/internal/logsink"
	"procfold/internal/pidlock"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseOptions(t *testing.T, command ...string) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	return Options{
		Command:   command,
		StdoutLog: filepath.Join(dir, "stdout.log"),
		StderrLog: MergeStderr,
		Logger:    quietLogger(),
	}, dir
}

func TestRunCapturesStdout(t *testing.T) {
	requireUnix(t)
	opts, _ := baseOptions(t, "sh", "-c", "echo hello")
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(opts.StdoutLog)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("captured %q", b)
	}
}

func TestRunCaptureIsVerbatim(t *testing.T) {
	requireUnix(t)
	// The pipe flushes mid-line; the capture must not turn the pause into
	// a line break.
	opts, _ := baseOptions(t, "sh", "-c", `printf foo; sleep 0.3; printf 'bar\n'; printf tail`)
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, err := os.ReadFile(opts.StdoutLog)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "foobar\ntail" {
		t.Fatalf("captured %q want %q", b, "foobar\ntail")
	}
}

func TestRunTemplatedCaptureDecoratesLines(t *testing.T) {
	requireUnix(t)
	opts, _ := baseOptions(t, "sh", "-c", `printf 'one\ntw'; sleep 0.2; printf 'o\n'`)
	opts.Format = logsink.Format{Template: "> " + logsink.TokenMessage}
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, _ := os.ReadFile(opts.StdoutLog)
	if string(b) != "> one\n> two\n" {
		t.Fatalf("captured %q", b)
	}
}

func TestRunSeparateStderr(t *testing.T) {
	requireUnix(t)
	opts, dir := baseOptions(t, "sh", "-c", "echo out; echo err 1>&2")
	opts.StderrLog = filepath.Join(dir, "stderr.log")
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, err := os.ReadFile(opts.StdoutLog)
	if err != nil || string(out) != "out\n" {
		t.Fatalf("stdout log %q err=%v", out, err)
	}
	errB, err := os.ReadFile(opts.StderrLog)
	if err != nil || string(errB) != "err\n" {
		t.Fatalf("stderr log %q err=%v", errB, err)
	}
}

func TestRunMergedStderr(t *testing.T) {
	requireUnix(t)
	opts, _ := baseOptions(t, "sh", "-c", "echo both 1>&2")
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	b, _ := os.ReadFile(opts.StdoutLog)
	if string(b) != "both\n" {
		t.Fatalf("captured %q", b)
	}
}

func TestRunWritesAndReleasesPidfiles(t *testing.T) {
	requireUnix(t)
	opts, dir := baseOptions(t, "sh", "-c", "sleep 0.2")
	opts.PIDFile = filepath.Join(dir, "daemon.pid")
	opts.AppPIDFile = filepath.Join(dir, "app.pid")
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, p := range []string{opts.PIDFile, opts.AppPIDFile} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("pidfile %s not released: %v", p, err)
		}
	}
}

func TestRunContendedPidfile(t *testing.T) {
	requireUnix(t)
	opts, dir := baseOptions(t, "sh", "-c", "echo never")
	opts.PIDFile = filepath.Join(dir, "daemon.pid")

	holder := pidlock.New(opts.PIDFile)
	if res, err := holder.Acquire(os.Getpid()); err != nil || res != pidlock.Acquired {
		t.Fatalf("holder acquire: res=%v err=%v", res, err)
	}
	defer func() { _ = holder.Release() }()

	err := Run(context.Background(), opts)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("got %v want ErrAlreadyRunning", err)
	}
	if _, serr := os.Stat(opts.StdoutLog); serr == nil {
		b, _ := os.ReadFile(opts.StdoutLog)
		if strings.Contains(string(b), "never") {
			t.Fatal("command ran despite contention")
		}
	}
}

func TestRunSpawnError(t *testing.T) {
	requireUnix(t)
	opts, dir := baseOptions(t, "true")
	opts.Command = []string{filepath.Join(dir, "no-such-binary")}
	if err := Run(context.Background(), opts); err == nil {
		t.Fatal("expected spawn error")
	}
}

func TestRunPropagatesExitStatus(t *testing.T) {
	requireUnix(t)
	opts, _ := baseOptions(t, "sh", "-c", "exit 3")
	err := Run(context.Background(), opts)
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	if got := ExitStatus(err); got != 3 {
		t.Fatalf("exit status %d want 3", got)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	requireUnix(t)
	opts, dir := baseOptions(t, "sh", "-c", "echo hi")
	opts.Name = "histcase"
	opts.HistoryPath = filepath.Join(dir, "runs.db")
	if err := Run(context.Background(), opts); err != nil {
		t.Fatalf("run: %v", err)
	}
	st, err := history.Open(opts.HistoryPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = st.Close() }()
	recs, err := st.Recent(context.Background(), 5)
	if err != nil || len(recs) != 1 {
		t.Fatalf("recs=%v err=%v", recs, err)
	}
	if recs[0].Name != "histcase" || recs[0].Running {
		t.Fatalf("record %+v", recs[0])
	}
}

func TestRunCancelSignalsTree(t *testing.T) {
	requireUnix(t)
	opts, _ := baseOptions(t, "sh", "-c", "sleep 30")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, opts) }()
	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestOptionsValidation(t *testing.T) {
	if err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("empty command must error")
	}
	bad := Options{
		Command: []string{"true"},
		Format:  logsink.Format{Template: "no token"},
		Logger:  quietLogger(),
	}
	if err := Run(context.Background(), bad); err == nil {
		t.Fatal("invalid format must error before spawning")
	}
}

func TestExitStatusMapping(t *testing.T) {
	if ExitStatus(nil) != StatusOK {
		t.Fatal("nil must map to StatusOK")
	}
	if ExitStatus(ErrAlreadyRunning) != StatusAlreadyRunning {
		t.Fatal("ErrAlreadyRunning must map to StatusAlreadyRunning")
	}
	if ExitStatus(errors.New("misc")) != 1 {
		t.Fatal("generic errors map to 1")
	}
	cmd := exec.Command("sh", "-c", "exit 7")
	err := cmd.Run()
	if ExitStatus(err) != 7 {
		t.Fatalf("got %d want 7", ExitStatus(err))
	}
}
