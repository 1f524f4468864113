package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"procfold/internal/config"
	"procfold/internal/follow"
	"procfold/internal/ratequeue"
	"procfold/internal/sink"
)

// TailFlags holds flags for the tail command.
type TailFlags struct {
	FromStart  bool
	Watch      bool
	RateLimit  int
	RatePeriod time.Duration
	PerSource  bool
	Marker     string
}

func newTailCmd(gf *GlobalFlags) *cobra.Command {
	tf := &TailFlags{}
	cmd := &cobra.Command{
		Use:   "tail [flags] file...",
		Short: "Follow files and interleave their lines, rate limited",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(cmd, gf, tf, args)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&tf.FromStart, "from-start", false, "read files from the beginning instead of the end")
	f.BoolVar(&tf.Watch, "watch", false, "use filesystem notifications instead of pure polling")
	f.IntVar(&tf.RateLimit, "rate-limit", config.DefaultTailRateLimit, "lines allowed per period before eliding (0 disables)")
	f.DurationVar(&tf.RatePeriod, "rate-period", config.DefaultTailRatePeriod, "rate limit window")
	f.BoolVar(&tf.PerSource, "per-source", false, "also rate limit each file independently")
	f.StringVar(&tf.Marker, "marker", ratequeue.DefaultMarker, "line emitted when eliding begins")
	return cmd
}

func tailConfig(gf *GlobalFlags, tf *TailFlags, args []string) (config.TailConfig, error) {
	tc := config.TailConfig{
		Files:      args,
		RateLimit:  tf.RateLimit,
		RatePeriod: tf.RatePeriod,
		PerSource:  tf.PerSource,
		Marker:     tf.Marker,
	}
	if gf.ConfigPath != "" {
		fc, err := config.Load(gf.ConfigPath)
		if err != nil {
			return tc, err
		}
		if fc.Tail != nil {
			if len(fc.Tail.Files) == 0 {
				fc.Tail.Files = args
			}
			tc = *fc.Tail
		}
	}
	tc.Normalize()
	return tc, nil
}

// sourceStage wraps dest in a per-file rate queue when per-source limiting
// is on. The queue's elision marker carries the same prefix as the file's
// lines so the reader can tell which source went quiet.
func sourceStage(path, prefix string, tc config.TailConfig, dest sink.Sink, log *slog.Logger) (sink.Sink, *ratequeue.Queue) {
	if !tc.PerSource || tc.RateLimit <= 0 {
		return dest, nil
	}
	q := ratequeue.New(ratequeue.Config{
		Limit:  tc.RateLimit,
		Period: tc.RatePeriod,
		Marker: prefix + tc.Marker,
		Source: path,
		Logger: log,
	}, dest)
	return q, q
}

func runTail(cmd *cobra.Command, gf *GlobalFlags, tf *TailFlags, args []string) error {
	tc, err := tailConfig(gf, tf, args)
	if err != nil {
		return err
	}
	log, closer, err := gf.setupLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	w := cmd.OutOrStdout()
	out := sink.Func(func(line string) error {
		_, werr := fmt.Fprintln(w, line)
		return werr
	})
	var dest sink.Sink = out
	var global *ratequeue.Queue
	if tc.RateLimit > 0 {
		global = ratequeue.New(ratequeue.Config{
			Limit:  tc.RateLimit,
			Period: tc.RatePeriod,
			Marker: tc.Marker,
			Source: "all",
			Logger: log,
		}, out)
		dest = global
	}

	width := 0
	for _, f := range tc.Files {
		if len(f) > width {
			width = len(f)
		}
	}
	prefixed := len(tc.Files) > 1

	var wg sync.WaitGroup
	followers := make([]*follow.LineFollower, 0, len(tc.Files))
	perSource := make([]*ratequeue.Queue, 0, len(tc.Files))
	tailOnly := !tf.FromStart
	for _, path := range tc.Files {
		var fl *follow.LineFollower
		if tf.Watch {
			fl, err = follow.OpenWatched(path, tailOnly)
		} else {
			fl, err = follow.Open(path, tailOnly)
		}
		if err != nil {
			for _, f := range followers {
				_ = f.Close()
			}
			return fmt.Errorf("open %s: %w", path, err)
		}
		followers = append(followers, fl)

		prefix := ""
		if prefixed {
			prefix = fmt.Sprintf("[%-*s] ", width, path)
		}
		target, q := sourceStage(path, prefix, tc, dest, log)
		if q != nil {
			perSource = append(perSource, q)
		}
		wg.Add(1)
		go func(fl *follow.LineFollower, target sink.Sink, prefix string) {
			defer wg.Done()
			for fl.Scan() {
				if aerr := target.Accept(prefix + fl.Text()); aerr != nil {
					log.Error("write failed", "error", aerr)
					return
				}
			}
			if ferr := fl.Err(); ferr != nil {
				log.Error("follow failed", "error", ferr)
			}
		}(fl, target, prefix)
	}

	// Interrupt finishes the followers so each drains its remaining lines
	// before the goroutines exit.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		signal.Stop(sigs)
		for _, fl := range followers {
			fl.Finish()
		}
	}()

	wg.Wait()
	for _, q := range perSource {
		q.Close()
	}
	if global != nil {
		global.Close()
	}
	for _, fl := range followers {
		_ = fl.Close()
	}
	return nil
}
