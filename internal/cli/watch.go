package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/daemon"
	"github.com/Ning0612/Sftpmirror/internal/logger"
	"github.com/Ning0612/Sftpmirror/internal/service"
)

func newWatchCommand(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Compare the trees periodically and log drift",
		Long: `Run a compare immediately and then every --interval until interrupted
or stopped with "sftpmirror watch stop". Nothing is changed on either
endpoint; drift is logged and recorded in the run history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := daemon.WatchPIDPath(a.cfg.StateDir)
			if err != nil {
				return err
			}
			pid := daemon.NewPIDFile(pidPath)
			if err := pid.Write(); err != nil {
				return err
			}
			defer pid.Remove()

			src, tgt, err := a.pair(cmd)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			w, err := service.NewWatchService(svc, src, tgt)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := w.Start(ctx, interval); err != nil {
				return err
			}
			logger.Get().Info("Watching for drift", "interval", interval, "source", src.Label(), "target", tgt.Label())
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s -> %s every %s (Ctrl+C to stop)\n", src, tgt, interval)

			<-ctx.Done()
			if err := w.Stop(); err != nil {
				return err
			}

			st := w.Status()
			if st.SchedulerStats != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Stopped after %d checks (%d failed)\n",
					st.SchedulerStats.TotalRuns, st.SchedulerStats.FailedRuns)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Minute, "time between checks")
	cmd.AddCommand(newWatchStopCommand(a))
	return cmd
}

func newWatchStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := daemon.WatchPIDPath(a.cfg.StateDir)
			if err != nil {
				return err
			}
			pid, err := daemon.NewPIDFile(pidPath).Stop()
			if errors.Is(err, daemon.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "No watcher is running.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("stop watcher (PID %d): %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped watcher (PID %d)\n", pid)
			return nil
		},
	}
}
