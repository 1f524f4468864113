package logsink

import (
	"sync"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default size-rotation parameters, shared with the daemon's own diagnostic
// log configuration.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// SizedPolicy configures size-based rotation, lumberjack semantics.
type SizedPolicy struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Sized is a sink rotated by size via lumberjack. It applies the same record
// formatting and single-newline guarantee as the other disciplines.
type Sized struct {
	mu     sync.Mutex
	path   string
	format Format
	lj     *lj.Logger

	now func() time.Time
}

// OpenSized creates a size-rotated sink at path. Zero policy fields fall back
// to the package defaults.
func OpenSized(path string, format Format, policy SizedPolicy) (*Sized, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	s := &Sized{
		path:   path,
		format: format,
		lj: &lj.Logger{
			Filename:   path,
			MaxSize:    valOr(policy.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(policy.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(policy.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   policy.Compress,
		},
		now: time.Now,
	}
	// lumberjack opens lazily; force the open now so failures surface to
	// the caller instead of being lost after detachment.
	if _, err := s.lj.Write(nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Accept writes one formatted record.
func (s *Sized) Accept(record string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.lj.Write([]byte(s.format.terminate(record, s.now())))
	return err
}

// AcceptRaw writes chunk byte-verbatim, without formatting or newline
// normalization.
func (s *Sized) AcceptRaw(chunk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.lj.Write([]byte(chunk))
	return err
}

// Path returns the sink's target path.
func (s *Sized) Path() string { return s.path }

// Close releases the lumberjack handle.
func (s *Sized) Close() error { return s.lj.Close() }

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
