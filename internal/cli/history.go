package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/service"
	"github.com/Ning0612/Sftpmirror/internal/state"
)

func newHistoryCommand(a *app) *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent compare, sync and backup runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := state.NewManager(a.cfg.StateDir)
			if err != nil {
				return err
			}
			defer m.Close()

			var (
				runs []state.RunRecord
				last *state.RunRecord
			)
			if all {
				runs, err = m.AllHistory(limit)
			} else {
				key := service.EndpointKey(a.target)
				if runs, err = m.History(key, limit); err == nil {
					last, err = m.LastSuccess(state.KindSync, key)
				}
			}
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), runs, last)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	cmd.Flags().BoolVar(&all, "all", false, "runs for every target, not just the configured one")
	return cmd
}

// printHistory writes runs as a table, followed by the last successful sync
// of the target when known
func printHistory(w io.Writer, runs []state.RunRecord, last *state.RunRecord) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tSTATUS\tDURATION\tTARGET\tSUMMARY")
	for _, r := range runs {
		summary := r.Summary
		if r.Error != "" {
			summary = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartTime.Local().Format(time.DateTime), r.Kind, r.Status,
			r.Duration().Round(time.Millisecond), r.Target, summary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if last != nil {
		fmt.Fprintf(w, "\nLast successful sync: %s (%s ago)\n",
			last.EndTime.Local().Format(time.DateTime), time.Since(last.EndTime).Round(time.Second))
	}
	return nil
}
