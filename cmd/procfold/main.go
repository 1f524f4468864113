package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"procfold/internal/logger"
)

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
}

// setupLogger builds the diagnostic logger from the global flags. The caller
// closes the returned closer when done.
func (gf *GlobalFlags) setupLogger() (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{Level: gf.LogLevel, File: gf.LogFile})
}

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStatus(err))
	}
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}
	root := &cobra.Command{
		Use:           "procfold",
		Short:         "Process supervision and stream multiplexing toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&gf.LogLevel, "log-level", "info", "diagnostic log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&gf.LogFile, "log-file", "", "diagnostic log file (default stderr)")

	root.AddCommand(newDaemonizeCmd(gf))
	root.AddCommand(newTailCmd(gf))
	root.AddCommand(newStreamCmd(gf))
	root.AddCommand(newLogPipeCmd(gf))
	root.AddCommand(newHistoryCmd(gf))
	return root
}
