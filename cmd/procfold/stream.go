package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"procfold/internal/follow"
)

// StreamFlags holds flags for the stream command.
type StreamFlags struct {
	FromStart bool
	ChunkSize int
}

func newStreamCmd(gf *GlobalFlags) *cobra.Command {
	sf := &StreamFlags{}
	cmd := &cobra.Command{
		Use:   "stream [flags] file",
		Short: "Follow a file byte for byte, without line buffering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, gf, sf, args[0])
		},
	}
	f := cmd.Flags()
	f.BoolVar(&sf.FromStart, "from-start", false, "read the file from the beginning instead of the end")
	f.IntVar(&sf.ChunkSize, "chunk-size", follow.DefaultChunkSize, "read size per poll")
	return cmd
}

func runStream(cmd *cobra.Command, gf *GlobalFlags, sf *StreamFlags, path string) error {
	log, closer, err := gf.setupLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	fl, err := follow.OpenBytes(path, !sf.FromStart, sf.ChunkSize)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = fl.Close() }()

	// Interrupt finishes the follower; remaining bytes drain before exit.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		signal.Stop(sigs)
		fl.Finish()
	}()

	w := cmd.OutOrStdout()
	for fl.Scan() {
		if _, werr := w.Write(fl.Bytes()); werr != nil {
			return werr
		}
	}
	if ferr := fl.Err(); ferr != nil {
		log.Error("follow failed", "path", path, "error", ferr)
		return ferr
	}
	return nil
}
