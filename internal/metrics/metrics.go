package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	pumpLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "pump",
			Name:      "lines_total",
			Help:      "Number of lines forwarded by line-buffered pumps.",
		},
	)
	pumpBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "pump",
			Name:      "bytes_total",
			Help:      "Number of bytes forwarded by raw pumps.",
		},
	)
	sinkRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "logsink",
			Name:      "rotations_total",
			Help:      "Number of log sink rotations by discipline.",
		}, []string{"mode"},
	)
	rateElisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "ratequeue",
			Name:      "elisions_total",
			Help:      "Number of elision markers emitted by rate-limited queues.",
		}, []string{"source"},
	)
	rateDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "ratequeue",
			Name:      "dropped_total",
			Help:      "Number of lines dropped after a window was exhausted.",
		}, []string{"source"},
	)
	daemonStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "daemon",
			Name:      "starts_total",
			Help:      "Number of supervised commands launched.",
		},
	)
	daemonExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "procfold",
			Subsystem: "daemon",
			Name:      "exits_total",
			Help:      "Number of supervised command exits by outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{pumpLines, pumpBytes, sinkRotations, rateElisions, rateDrops, daemonStarts, daemonExits}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving metrics for the DefaultGatherer.
// The caller owns the HTTP server and routing.
func Handler() http.Handler { return promhttp.Handler() }

func IncPumpLines()                { pumpLines.Inc() }
func AddPumpBytes(n int)           { pumpBytes.Add(float64(n)) }
func IncRotation(mode string)      { sinkRotations.WithLabelValues(mode).Inc() }
func IncElision(source string)     { rateElisions.WithLabelValues(source).Inc() }
func IncDrop(source string)        { rateDrops.WithLabelValues(source).Inc() }
func IncDaemonStart()              { daemonStarts.Inc() }
func IncDaemonExit(outcome string) { daemonExits.WithLabelValues(outcome).Inc() }
