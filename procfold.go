// Package procfold re-exports the supervision and stream-multiplexing core
// for embedding: daemonized commands with pidfile locking and rotating log
// capture, line and byte followers, rate-limited line queues, and process
// tree signaling.
package procfold

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procfold/internal/daemon"
	"procfold/internal/follow"
	"procfold/internal/history"
	"procfold/internal/logsink"
	"procfold/internal/metrics"
	"procfold/internal/pidlock"
	"procfold/internal/proctree"
	"procfold/internal/pump"
	"procfold/internal/ratequeue"
	"procfold/internal/sink"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Sink = sink.Sink

type SinkFunc = sink.Func

type DaemonOptions = daemon.Options

type Rotation = daemon.Rotation

type LogFormat = logsink.Format

type TimedPolicy = logsink.TimedPolicy

type SizedPolicy = logsink.SizedPolicy

type LineFollower = follow.LineFollower

type ByteFollower = follow.ByteFollower

type RateConfig = ratequeue.Config

type RateQueue = ratequeue.Queue

type PIDLock = pidlock.Lock

type HistoryRecord = history.Record

// LinePump decorates each input line with a prefix and postfix, and can
// record the undecorated lines in a Capture buffer.
type LinePump = pump.Line

type Capture = pump.Capture

var ErrAlreadyRunning = daemon.ErrAlreadyRunning

// Daemonize re-executes the current binary detached and returns the new pid.
func Daemonize(o DaemonOptions) (int, error) { return daemon.Daemonize(o) }

// Detached reports whether this process is the re-executed detached copy.
func Detached() bool { return daemon.Detached() }

// Supervise runs the daemonized command in the current process.
func Supervise(ctx context.Context, o DaemonOptions) error { return daemon.Run(ctx, o) }

// ExitStatus maps a Daemonize or Supervise error to a process exit code.
func ExitStatus(err error) int { return daemon.ExitStatus(err) }

// Follow opens a polling line follower on path.
func Follow(path string, tailOnly bool) (*LineFollower, error) {
	return follow.Open(path, tailOnly)
}

// FollowBytes opens a polling byte follower on path.
func FollowBytes(path string, tailOnly bool, chunkSize int) (*ByteFollower, error) {
	return follow.OpenBytes(path, tailOnly, chunkSize)
}

// PumpRaw copies r into s in large chunks until EOF.
func PumpRaw(r io.Reader, s Sink) error { return pump.Raw(r, s) }

// NewRateQueue starts a rate-limited line queue draining into out.
func NewRateQueue(cfg RateConfig, out Sink) *RateQueue { return ratequeue.New(cfg, out) }

// NewPIDLock returns an unacquired pidfile lock for path.
func NewPIDLock(path string) *PIDLock { return pidlock.New(path) }

// ShutdownTree signals pid's process tree with SIGTERM, then SIGKILL for
// survivors after grace.
func ShutdownTree(pid int, recursive bool, grace time.Duration, logger *slog.Logger, phases ...syscall.Signal) {
	proctree.Shutdown(pid, recursive, grace, logger, phases...)
}

// RegisterMetrics registers procfold collectors on r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
