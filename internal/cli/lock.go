package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/lock"
)

func newLockCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Show who holds the sync lock on the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			info, err := svc.LockHolder(a.target)
			if err != nil {
				return err
			}
			printLockHolder(cmd.OutOrStdout(), a.target.Label(), info)
			return nil
		},
	}
}

func newUnlockCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove a sync lock left behind by a crashed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			info, err := svc.LockHolder(a.target)
			if err != nil {
				return err
			}
			if info == nil {
				printLockHolder(cmd.OutOrStdout(), a.target.Label(), nil)
				return nil
			}
			if !yes && !confirm(cmd, fmt.Sprintf("Remove the lock held by PID %d on %s?", info.PID, info.Hostname)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
			if err := svc.ForceUnlock(a.target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Lock on %s removed.\n", a.target.Label())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func printLockHolder(w io.Writer, target string, info *lock.LockInfo) {
	if info == nil {
		fmt.Fprintf(w, "No lock held on %s.\n", target)
		return
	}
	fmt.Fprintf(w, "Locked: %s\n", target)
	fmt.Fprintf(w, "  PID:       %d\n", info.PID)
	fmt.Fprintf(w, "  Host:      %s\n", info.Hostname)
	fmt.Fprintf(w, "  Since:     %s (%s ago)\n",
		info.StartTime.Local().Format(time.DateTime), time.Since(info.StartTime).Round(time.Second))
	if info.Operation != "" {
		fmt.Fprintf(w, "  Operation: %s\n", info.Operation)
	}
}
