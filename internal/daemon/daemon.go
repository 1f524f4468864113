// Package daemon turns a foreground command into a detached, supervised
// process: pidfile locking, output capture into rotation-tolerant sinks, and
// lifecycle management of the child and its locks.
//
// Detachment uses the re-exec pattern: Daemonize validates everything it can
// in the foreground, then starts the current binary again in a new session
// with an internal environment marker; the re-executed copy calls Run, which
// does the actual supervision.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"procfold/internal/history"
	"procfold/internal/logsink"
	"procfold/internal/metrics"
	"procfold/internal/pidlock"
	"procfold/internal/proctree"
	"procfold/internal/pump"
	"procfold/internal/sink"
)

// MergeStderr is the special stderr log value that routes stderr into the
// stdout sink.
const MergeStderr = "STDOUT"

// Default log paths, relative to the working directory.
const (
	DefaultStdoutLog = "log/stdout.log"
	DefaultStderrLog = "log/stderr.log"
)

// DefaultGraceDrain bounds the wait for pumps to flush remaining output after
// the child exits.
const DefaultGraceDrain = 5 * time.Second

// appKillGrace is the window between SIGTERM and SIGKILL when a just-spawned
// child must be torn down because its app pidfile could not be acquired.
const appKillGrace = 1 * time.Second

// shutdownGrace is the term-to-kill window when the supervising context is
// cancelled.
const shutdownGrace = 5 * time.Second

// Exit statuses for driver tools.
const (
	StatusOK             = 0
	StatusAlreadyRunning = 1
)

// ErrAlreadyRunning reports that another live instance holds the pidfile.
// Terminal and expected: callers exit with StatusAlreadyRunning, no retry.
var ErrAlreadyRunning = errors.New("daemon already running")

const detachEnv = "PROCFOLD_DETACHED"

// Rotation selects the sink discipline for captured output. Both nil means
// watched (reopen when an outside tool rotates the file).
type Rotation struct {
	Timed *logsink.TimedPolicy
	Sized *logsink.SizedPolicy
}

// Options configures one daemonized run.
type Options struct {
	// Name labels the run in history and logs; defaults to the command's
	// base name.
	Name string
	// Command is the argv of the process to supervise.
	Command []string
	// PIDFile, when set, holds the supervisor's own pid under a pidlock.
	PIDFile string
	// AppPIDFile, when set, holds the supervised child's pid under a second
	// pidlock.
	AppPIDFile string
	// StdoutLog and StderrLog are the capture paths. StderrLog == MergeStderr
	// sends stderr into the stdout sink.
	StdoutLog string
	StderrLog string
	// Format applies to every captured record.
	Format logsink.Format
	// Rotation selects the capture sinks' rotation discipline.
	Rotation Rotation
	// WorkDir roots the daemon; empty means the invoking directory.
	WorkDir string
	// GraceDrain bounds the post-exit pump drain.
	GraceDrain time.Duration
	// HistoryPath, when set, records runs into a SQLite database there.
	HistoryPath string
	// Logger carries the daemon's own diagnostics. It must write somewhere
	// that survives detachment.
	Logger *slog.Logger
}

func (o *Options) withDefaults() error {
	if len(o.Command) == 0 {
		return errors.New("no command to daemonize")
	}
	if o.Name == "" {
		o.Name = filepath.Base(o.Command[0])
	}
	if o.StdoutLog == "" {
		o.StdoutLog = DefaultStdoutLog
	}
	if o.StderrLog == "" {
		o.StderrLog = DefaultStderrLog
	}
	if o.GraceDrain <= 0 {
		o.GraceDrain = DefaultGraceDrain
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if err := o.Format.Validate(); err != nil {
		return err
	}
	if o.Rotation.Timed != nil {
		if err := o.Rotation.Timed.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// capSink is a capture sink with ownership of its file handle. AcceptRaw is
// the byte-verbatim path used when no record template decorates the output.
type capSink interface {
	sink.Sink
	AcceptRaw(chunk string) error
	Path() string
	Close() error
}

func (o Options) openSink(path string) (capSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir %s: %w", dir, err)
		}
	}
	switch {
	case o.Rotation.Timed != nil:
		return logsink.OpenTimed(path, o.Format, *o.Rotation.Timed)
	case o.Rotation.Sized != nil:
		return logsink.OpenSized(path, o.Format, *o.Rotation.Sized)
	default:
		return logsink.OpenWatched(path, o.Format)
	}
}

// openSinks opens the stdout sink and, unless stderr is merged, the stderr
// sink. The stderr sink is nil when merged.
func (o Options) openSinks() (capSink, capSink, error) {
	out, err := o.openSink(o.StdoutLog)
	if err != nil {
		return nil, nil, err
	}
	if o.StderrLog == MergeStderr {
		return out, nil, nil
	}
	errS, err := o.openSink(o.StderrLog)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return out, errS, nil
}

// Detached reports whether this process is the re-executed detached child.
func Detached() bool { return os.Getenv(detachEnv) == "1" }

// Daemonize validates the options, preflights the capture sinks and the
// pidfile in the foreground so failures surface to the invoker instead of
// being lost after detachment, then re-executes the current binary in a new
// session. It returns the detached child's pid; the caller is expected to
// exit afterwards.
func Daemonize(o Options) (int, error) {
	if err := o.withDefaults(); err != nil {
		return 0, err
	}
	out, errS, err := o.openSinks()
	if err != nil {
		return 0, err
	}
	_ = out.Close()
	if errS != nil {
		_ = errS.Close()
	}
	if o.PIDFile != "" {
		if pid, rerr := pidlock.ReadPID(o.PIDFile); rerr == nil && pidlock.Alive(pid) {
			return 0, fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, pid, o.PIDFile)
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("locate executable: %w", err)
	}
	wd := o.WorkDir
	if wd == "" {
		if wd, err = os.Getwd(); err != nil {
			return 0, err
		}
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Dir = wd
	cmd.Env = append(os.Environ(), detachEnv+"=1")
	detachAttrs(cmd)
	// Stdin/stdout/stderr stay nil: the detached copy gets /dev/null and
	// logs through its own diagnostic logger.
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached process: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// Run supervises the command in the current (normally detached) process:
// acquire the pidfile, open the sinks, spawn, pump, wait, drain, release.
// The returned error carries the child's exit status when it failed; map it
// with ExitStatus.
func Run(ctx context.Context, o Options) (err error) {
	if derr := o.withDefaults(); derr != nil {
		return derr
	}
	log := o.Logger
	// Outermost supervisory boundary: anything unexpected is logged through
	// the still-open diagnostic sink before the deferred lock releases run.
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in daemon context", "panic", r)
			err = fmt.Errorf("panic in daemon context: %v", r)
		}
	}()

	if o.PIDFile != "" {
		main := pidlock.New(o.PIDFile)
		res, aerr := main.Acquire(os.Getpid())
		if aerr != nil {
			return fmt.Errorf("acquire pidfile: %w", aerr)
		}
		switch res {
		case pidlock.Contended:
			holder, _ := pidlock.ReadPID(o.PIDFile)
			return fmt.Errorf("%w: pidfile %s held by pid %d", ErrAlreadyRunning, o.PIDFile, holder)
		case pidlock.StaleReclaimed:
			log.Warn("stale pidfile detected, breaking the stale lock", "pidfile", o.PIDFile)
		}
		defer func() {
			if rerr := main.Release(); rerr != nil {
				log.Error("release pidfile", "pidfile", o.PIDFile, "error", rerr)
			}
		}()
	}

	outSink, errSink, err := o.openSinks()
	if err != nil {
		return err
	}
	defer func() { _ = outSink.Close() }()
	if errSink != nil {
		defer func() { _ = errSink.Close() }()
	}

	var hist *history.Store
	if o.HistoryPath != "" {
		if hist, err = history.Open(o.HistoryPath); err != nil {
			log.Warn("history store unavailable", "path", o.HistoryPath, "error", err)
			hist = nil
			err = nil
		} else {
			defer func() { _ = hist.Close() }()
		}
	}

	// #nosec G204 -- supervising the caller's own command is the point
	cmd := exec.Command(o.Command[0], o.Command[1:]...)
	if o.WorkDir != "" {
		cmd.Dir = o.WorkDir
	}
	childAttrs(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = outW
	var errR, errW *os.File
	if errSink == nil {
		cmd.Stderr = outW
	} else {
		if errR, errW, err = os.Pipe(); err != nil {
			_ = outR.Close()
			_ = outW.Close()
			return fmt.Errorf("stderr pipe: %w", err)
		}
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		_ = outR.Close()
		_ = outW.Close()
		if errR != nil {
			_ = errR.Close()
			_ = errW.Close()
		}
		return fmt.Errorf("spawn %s: %w", o.Command[0], err)
	}
	childPID := cmd.Process.Pid
	// The daemon forwards no input.
	_ = stdin.Close()
	// Parent copies of the write ends must go so the pumps see EOF when the
	// child exits.
	_ = outW.Close()
	if errW != nil {
		_ = errW.Close()
	}

	metrics.IncDaemonStart()
	log.Info("command launched", "name", o.Name, "pid", childPID)

	waitDone := make(chan struct{})
	var werr error
	go func() {
		werr = cmd.Wait()
		close(waitDone)
	}()

	var runID int64
	if hist != nil {
		if runID, err = hist.RecordStart(ctx, o.Name, os.Getpid(), childPID, time.Now()); err != nil {
			log.Warn("history record failed", "error", err)
			err = nil
		}
	}

	if o.AppPIDFile != "" {
		app := pidlock.New(o.AppPIDFile)
		res, aerr := app.Acquire(childPID)
		if aerr != nil || res == pidlock.Contended {
			proctree.Shutdown(childPID, true, appKillGrace, log)
			<-waitDone
			_ = outR.Close()
			if errR != nil {
				_ = errR.Close()
			}
			if aerr != nil {
				return fmt.Errorf("acquire app pidfile: %w", aerr)
			}
			return fmt.Errorf("%w: app pidfile %s", ErrAlreadyRunning, o.AppPIDFile)
		}
		if res == pidlock.StaleReclaimed {
			log.Warn("stale app pidfile detected, breaking the stale lock", "pidfile", o.AppPIDFile)
		}
		defer func() {
			if rerr := app.Release(); rerr != nil {
				log.Error("release app pidfile", "pidfile", o.AppPIDFile, "error", rerr)
			}
		}()
	}

	// With the bare-message template the capture is byte-verbatim: chunks go
	// straight through AcceptRaw so a partial-line flush or a line split
	// across reads never gains a newline. A real template means per-line
	// decoration, so those captures run line-buffered instead.
	plain := o.Format.Template == "" || o.Format.Template == logsink.TokenMessage
	var wg sync.WaitGroup
	startPump := func(stream string, r *os.File, s capSink) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = r.Close() }()
			var perr error
			if plain {
				perr = pump.Raw(r, sink.Func(s.AcceptRaw))
			} else {
				perr = pump.Line{}.Flow(r, s)
			}
			if perr != nil {
				// The sibling pump and the child keep going.
				log.Error("pump terminated early", "stream", stream, "error", perr)
			}
		}()
	}
	startPump("stdout", outR, outSink)
	if errR != nil {
		startPump("stderr", errR, errSink)
	}

	select {
	case <-waitDone:
	case <-ctx.Done():
		log.Info("shutdown requested, signaling process tree", "pid", childPID)
		proctree.Shutdown(childPID, true, shutdownGrace, log)
		<-waitDone
	}

	// Best-effort drain: pumps still running after the grace period are
	// abandoned, accepting that rare trailing output is lost.
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(o.GraceDrain):
		log.Warn("output drain timed out", "grace", o.GraceDrain)
	}

	if hist != nil && runID != 0 {
		if herr := hist.RecordExit(context.Background(), runID, time.Now(), werr); herr != nil {
			log.Warn("history record failed", "error", herr)
		}
	}
	if werr != nil {
		metrics.IncDaemonExit("error")
		return fmt.Errorf("command exited: %w", werr)
	}
	metrics.IncDaemonExit("ok")
	log.Info("command exited", "name", o.Name, "pid", childPID)
	return nil
}

// ExitStatus maps a Daemonize or Run error to a driver exit code: 0 for nil,
// StatusAlreadyRunning for lock contention, the child's own code when it
// exited nonzero, 1 otherwise.
func ExitStatus(err error) int {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, ErrAlreadyRunning) {
		return StatusAlreadyRunning
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if code := ee.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
