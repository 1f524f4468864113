// Package config loads procfold's TOML configuration and converts it into
// the option structs the daemon and tail layers consume.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"procfold/internal/daemon"
	"procfold/internal/logger"
	"procfold/internal/logsink"
	"procfold/internal/ratequeue"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Log       *logger.Config   `toml:"log" mapstructure:"log"`
	Daemonize *DaemonizeConfig `toml:"daemonize" mapstructure:"daemonize"`
	Tail      *TailConfig      `toml:"tail" mapstructure:"tail"`
}

// DaemonizeConfig describes one supervised command.
type DaemonizeConfig struct {
	Name       string   `toml:"name" mapstructure:"name"`
	Command    []string `toml:"command" mapstructure:"command"`
	WorkDir    string   `toml:"workdir" mapstructure:"workdir"`
	PIDFile    string   `toml:"pidfile" mapstructure:"pidfile"`
	AppPIDFile string   `toml:"app_pidfile" mapstructure:"app_pidfile"`
	StdoutLog  string   `toml:"stdout_log" mapstructure:"stdout_log"`
	// StderrLog may be the literal "STDOUT" to merge stderr into the stdout
	// sink.
	StderrLog  string          `toml:"stderr_log" mapstructure:"stderr_log"`
	LogFormat  string          `toml:"log_format" mapstructure:"log_format"`
	DateFormat string          `toml:"date_format" mapstructure:"date_format"`
	Rotation   *RotationConfig `toml:"rotation" mapstructure:"rotation"`
	GraceDrain time.Duration   `toml:"grace_drain" mapstructure:"grace_drain"`
	History    string          `toml:"history" mapstructure:"history"`
}

// RotationConfig selects and parameterizes the capture sinks' rotation mode.
type RotationConfig struct {
	// Mode is "watched" (default), "timed", or "size".
	Mode string `toml:"mode" mapstructure:"mode"`
	// Timed mode.
	When        string `toml:"when" mapstructure:"when"`
	Interval    int    `toml:"interval" mapstructure:"interval"`
	BackupCount int    `toml:"backup_count" mapstructure:"backup_count"`
	// Size mode.
	MaxSizeMB  int  `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `toml:"compress" mapstructure:"compress"`
}

// Tail defaults shared by the config loader and the CLI flag definitions.
const (
	DefaultTailRateLimit  = 100
	DefaultTailRatePeriod = time.Second
)

// TailConfig describes a multi-file follow session.
type TailConfig struct {
	Files      []string      `toml:"files" mapstructure:"files"`
	RateLimit  int           `toml:"rate_limit" mapstructure:"rate_limit"`
	RatePeriod time.Duration `toml:"rate_period" mapstructure:"rate_period"`
	// PerSource adds a rate limiter per followed file in front of the
	// global one.
	PerSource bool   `toml:"per_source" mapstructure:"per_source"`
	Marker    string `toml:"marker" mapstructure:"marker"`
}

// Load parses a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Rotation converts the rotation section to daemon form. A nil or
// unspecified section means watched mode.
func (rc *RotationConfig) Rotation() (daemon.Rotation, error) {
	if rc == nil {
		return daemon.Rotation{}, nil
	}
	switch rc.Mode {
	case "", "watched":
		return daemon.Rotation{}, nil
	case "timed":
		p := logsink.TimedPolicy{
			When:        logsink.When(rc.When),
			Interval:    rc.Interval,
			BackupCount: rc.BackupCount,
		}
		if err := p.Validate(); err != nil {
			return daemon.Rotation{}, err
		}
		return daemon.Rotation{Timed: &p}, nil
	case "size":
		return daemon.Rotation{Sized: &logsink.SizedPolicy{
			MaxSizeMB:  rc.MaxSizeMB,
			MaxBackups: rc.MaxBackups,
			MaxAgeDays: rc.MaxAgeDays,
			Compress:   rc.Compress,
		}}, nil
	default:
		return daemon.Rotation{}, fmt.Errorf("unknown rotation mode %q", rc.Mode)
	}
}

// Options converts the daemonize section into daemon options, applying the
// documented defaults.
func (dc *DaemonizeConfig) Options() (daemon.Options, error) {
	if dc == nil || len(dc.Command) == 0 {
		return daemon.Options{}, fmt.Errorf("daemonize section requires a command")
	}
	rot, err := dc.Rotation.Rotation()
	if err != nil {
		return daemon.Options{}, err
	}
	format := logsink.Format{Template: dc.LogFormat, DateFormat: dc.DateFormat}
	if format.Template == "" {
		format.Template = logsink.TokenMessage
	}
	if format.DateFormat == "" {
		format.DateFormat = logsink.DefaultDateFormat
	}
	if err := format.Validate(); err != nil {
		return daemon.Options{}, err
	}
	return daemon.Options{
		Name:        dc.Name,
		Command:     dc.Command,
		PIDFile:     dc.PIDFile,
		AppPIDFile:  dc.AppPIDFile,
		StdoutLog:   dc.StdoutLog,
		StderrLog:   dc.StderrLog,
		Format:      format,
		Rotation:    rot,
		WorkDir:     dc.WorkDir,
		GraceDrain:  dc.GraceDrain,
		HistoryPath: dc.History,
	}, nil
}

// Normalize applies tail defaults in place.
func (tc *TailConfig) Normalize() {
	if tc.RateLimit == 0 {
		tc.RateLimit = DefaultTailRateLimit
	}
	if tc.RatePeriod == 0 {
		tc.RatePeriod = DefaultTailRatePeriod
	}
	if tc.Marker == "" {
		tc.Marker = ratequeue.DefaultMarker
	}
}
