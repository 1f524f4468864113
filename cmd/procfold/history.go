package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"procfold/internal/history"
)

func newHistoryCmd(gf *GlobalFlags) *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history [flags]",
		Short: "Show recent daemonized runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				return fmt.Errorf("--history is required")
			}
			st, err := history.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			recs, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tPID\tCHILD\tSTARTED\tSTOPPED\tRESULT")
			for _, r := range recs {
				stopped, result := "-", "running"
				if !r.Running {
					stopped = r.StoppedAt.Format(time.RFC3339)
					result = "ok"
					if r.ExitErr != "" {
						result = r.ExitErr
					}
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%s\n",
					r.Name, r.PID, r.ChildPID, r.StartedAt.Format(time.RFC3339), stopped, result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&path, "history", "", "path to run-history SQLite database")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}
