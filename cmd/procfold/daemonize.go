package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"procfold/internal/config"
	"procfold/internal/daemon"
	"procfold/internal/logger"
	"procfold/internal/logsink"
	"procfold/internal/metrics"
)

// DaemonizeFlags holds flags for the daemonize command.
type DaemonizeFlags struct {
	Name        string
	PIDFile     string
	AppPIDFile  string
	StdoutLog   string
	StderrLog   string
	LogFormat   string
	DateFormat  string
	Rotate      string
	When        string
	Interval    int
	BackupCount int
	MaxSizeMB   int
	MaxBackups  int
	GraceDrain  time.Duration
	History     string
	Foreground  bool
	MetricsAddr string
}

func exitStatus(err error) int { return daemon.ExitStatus(err) }

func newDaemonizeCmd(gf *GlobalFlags) *cobra.Command {
	df := &DaemonizeFlags{}
	cmd := &cobra.Command{
		Use:   "daemonize [flags] -- command [args...]",
		Short: "Run a command detached, capturing its output into rotating logs",
		// The command may come from the config file instead of argv.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var fc *config.FileConfig
			if gf.ConfigPath != "" {
				var err error
				if fc, err = config.Load(gf.ConfigPath); err != nil {
					return err
				}
			}
			opts, err := buildDaemonOptions(fc, df, args)
			if err != nil {
				return err
			}
			return runDaemonize(cmd, gf, df, fc, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&df.Name, "name", "", "label for logs and history (default command base name)")
	f.StringVar(&df.PIDFile, "pidfile", "", "pidfile for the supervisor")
	f.StringVar(&df.AppPIDFile, "app-pidfile", "", "pidfile for the supervised command")
	f.StringVar(&df.StdoutLog, "stdout-log", daemon.DefaultStdoutLog, "stdout capture path")
	f.StringVar(&df.StderrLog, "stderr-log", daemon.DefaultStderrLog, "stderr capture path, or STDOUT to merge")
	f.StringVar(&df.LogFormat, "log-format", logsink.TokenMessage, "record template, supports %(message)s and %(asctime)s")
	f.StringVar(&df.DateFormat, "date-format", logsink.DefaultDateFormat, "strftime layout for %(asctime)s")
	f.StringVar(&df.Rotate, "rotate", "watched", "rotation mode: watched, timed, or size")
	f.StringVar(&df.When, "when", "midnight", "timed rotation granularity")
	f.IntVar(&df.Interval, "interval", 1, "timed rotation interval")
	f.IntVar(&df.BackupCount, "backup-count", 0, "rotated files to keep (0 keeps all)")
	f.IntVar(&df.MaxSizeMB, "max-size-mb", 0, "size rotation threshold in MB")
	f.IntVar(&df.MaxBackups, "max-backups", 0, "size rotation backups to keep")
	f.DurationVar(&df.GraceDrain, "grace-drain", daemon.DefaultGraceDrain, "post-exit output drain budget")
	f.StringVar(&df.History, "history", "", "path to run-history SQLite database")
	f.BoolVar(&df.Foreground, "foreground", false, "supervise in the foreground instead of detaching")
	f.StringVar(&df.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while supervising")
	return cmd
}

func buildDaemonOptions(fc *config.FileConfig, df *DaemonizeFlags, args []string) (daemon.Options, error) {
	if fc != nil && fc.Daemonize != nil {
		if len(fc.Daemonize.Command) == 0 {
			fc.Daemonize.Command = args
		}
		return fc.Daemonize.Options()
	}
	dc := config.DaemonizeConfig{
		Name:       df.Name,
		Command:    args,
		PIDFile:    df.PIDFile,
		AppPIDFile: df.AppPIDFile,
		StdoutLog:  df.StdoutLog,
		StderrLog:  df.StderrLog,
		LogFormat:  df.LogFormat,
		DateFormat: df.DateFormat,
		GraceDrain: df.GraceDrain,
		History:    df.History,
	}
	if df.Rotate != "" && df.Rotate != "watched" {
		dc.Rotation = &config.RotationConfig{
			Mode:        df.Rotate,
			When:        df.When,
			Interval:    df.Interval,
			BackupCount: df.BackupCount,
			MaxSizeMB:   df.MaxSizeMB,
			MaxBackups:  df.MaxBackups,
		}
	}
	return dc.Options()
}

func runDaemonize(cmd *cobra.Command, gf *GlobalFlags, df *DaemonizeFlags, fc *config.FileConfig, opts daemon.Options) error {
	if !df.Foreground && !daemon.Detached() {
		pid, err := daemon.Daemonize(opts)
		if err != nil {
			return err
		}
		cmd.Printf("daemonized as pid %d\n", pid)
		return nil
	}

	lc := logger.Config{Level: gf.LogLevel, File: gf.LogFile}
	if fc != nil && fc.Log != nil {
		lc = *fc.Log
	}
	if lc.File == "" && daemon.Detached() {
		// Detached stderr is /dev/null; diagnostics go next to the capture
		// logs instead.
		lc.File = filepath.Join(filepath.Dir(opts.StdoutLog), "procfold.log")
	}
	log, closer, err := logger.New(lc)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	opts.Logger = log

	if df.MetricsAddr != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("metrics registration failed", "error", err)
		}
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: df.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if serr := srv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				log.Error("metrics server failed", "error", serr)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return daemon.Run(ctx, opts)
}
