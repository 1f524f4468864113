package main

import (
	"io"

	"github.com/spf13/cobra"

	"procfold/internal/logsink"
	"procfold/internal/pump"
	"procfold/internal/sink"
)

// LogPipeFlags holds flags for the logpipe command.
type LogPipeFlags struct {
	Format     string
	DateFormat string
	Tee        bool
}

func newLogPipeCmd(gf *GlobalFlags) *cobra.Command {
	lf := &LogPipeFlags{}
	cmd := &cobra.Command{
		Use:   "logpipe [flags] file",
		Short: "Pipe stdin into a rotation-tolerant log file",
		Long: "Reads lines from standard input and appends them to a log file that\n" +
			"survives external rotation: when the file is moved or removed, the next\n" +
			"line reopens it at the original path.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogPipe(cmd, lf, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&lf.Format, "format", logsink.TokenMessage, "record template, supports %(message)s and %(asctime)s")
	f.StringVar(&lf.DateFormat, "date-format", logsink.DefaultDateFormat, "strftime layout for %(asctime)s")
	f.BoolVar(&lf.Tee, "tee", false, "echo each line to stdout as well")
	return cmd
}

func runLogPipe(cmd *cobra.Command, lf *LogPipeFlags, path string) error {
	format := logsink.Format{Template: lf.Format, DateFormat: lf.DateFormat}
	if err := format.Validate(); err != nil {
		return err
	}
	ws, err := logsink.OpenWatched(path, format)
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	var dest sink.Sink = ws
	if lf.Tee {
		out := cmd.OutOrStdout()
		dest = sink.Func(func(line string) error {
			if _, werr := io.WriteString(out, line); werr != nil {
				return werr
			}
			return ws.Accept(line)
		})
	}
	return pump.Line{}.Flow(cmd.InOrStdin(), dest)
}
