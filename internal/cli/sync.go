package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/config"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/service"
)

func newSyncCommand(a *app) *cobra.Command {
	var (
		del       bool
		backup    string
		backupDir string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the source tree onto the target",
		Long: `Compare both trees, then copy new and changed files to the target and
re-apply their owner, group and permissions. With --delete, files and
directories that only exist on the target are removed.

A backup runs first when requested; if it fails nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := service.SyncOptions{
				DeleteOnTarget: a.cfg.Sync.DeleteOnTarget,
				Backup:         a.cfg.Sync.Backup,
				BackupDir:      a.cfg.Sync.BackupDir,
			}
			if cmd.Flags().Changed("delete") {
				opts.DeleteOnTarget = del
			}
			if cmd.Flags().Changed("backup") {
				opts.Backup = domain.BackupMode(strings.ToLower(backup))
			}
			if cmd.Flags().Changed("backup-dir") {
				opts.BackupDir = config.ExpandPath(backupDir)
			}

			rec, err := a.compare(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rec.InSync() {
				fmt.Fprintln(out, "Trees are in sync, nothing to do.")
				return nil
			}
			printReconciliation(out, rec, false)

			if !yes && !confirm(cmd, fmt.Sprintf("Apply to %s?", a.target)) {
				return fmt.Errorf("aborted (use --yes to skip confirmation)")
			}

			svc, err := a.service()
			if err != nil {
				return err
			}
			res, err := wait[service.SyncComplete](cmd, svc.Sync(cmd.Context(), a.source, a.target, rec, opts))
			if err != nil {
				return err
			}

			if res.BackupPath != "" {
				fmt.Fprintf(out, "Backup: %s\n", res.BackupPath)
			}
			fmt.Fprintln(out, res.Outcome.String())
			for _, w := range res.Outcome.Warnings {
				fmt.Fprintf(out, "  warning: %v\n", w)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&del, "delete", false, "remove target-only files and directories")
	f.StringVar(&backup, "backup", "", "back up the target first: none, remote or local")
	f.StringVar(&backupDir, "backup-dir", "", "local directory for --backup local")
	f.BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newSyncFileCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-file <path>...",
		Short: "Copy individual files from the source to the target",
		Long: `Copy the given files (relative to the roots) from the source to the
target, creating missing parent directories. Permission bits are copied;
owner and group are left as the target assigns them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, tgt, err := a.pair(cmd)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				res, err := wait[service.SingleSyncComplete](cmd, svc.SyncFile(cmd.Context(), src, tgt, args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Synced %s (directory %s)\n", res.Path, res.Dir)
				return nil
			}

			res, err := wait[service.BatchSyncComplete](cmd, svc.SyncFiles(cmd.Context(), src, tgt, args))
			if err != nil {
				return err
			}
			for _, p := range res.Synced {
				fmt.Fprintf(out, "synced  %s\n", p)
			}
			for _, f := range res.Failed {
				fmt.Fprintf(out, "failed  %s: %v\n", f.Path, f.Err)
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d files failed", len(res.Failed), len(args))
			}
			return nil
		},
	}
}

func newBackupCommand(a *app) *cobra.Command {
	var (
		mode string
		dir  string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up an endpoint without syncing",
		Long: `remote: copy the root to <root>-backup-YYYYMMDD-HHMMSS on the server.
local:  download the root into <dir>/<name>-backup-YYYYMMDD-HHMMSS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := singleSide(cmd)
			if err != nil {
				return err
			}
			ep, err := a.endpoint(cmd, side)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = a.cfg.Sync.BackupDir
			}
			svc, err := a.service()
			if err != nil {
				return err
			}

			res, err := wait[service.BackupComplete](cmd, svc.Backup(cmd.Context(), ep,
				domain.BackupMode(strings.ToLower(mode)), config.ExpandPath(dir)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s backup written to %s\n", res.Mode, res.Path)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&mode, "mode", string(domain.BackupRemote), "remote or local")
	f.StringVar(&dir, "dir", "", "local backup directory (default: sync.backup_dir)")
	f.String("side", "target", "endpoint to back up: source or target")
	return cmd
}
