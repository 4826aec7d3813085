package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/config"
	"github.com/Ning0612/Sftpmirror/internal/lock"
	"github.com/Ning0612/Sftpmirror/internal/logger"
)

// Version is set at build time
var Version = "dev"

// globalFlags are shared by every command
type globalFlags struct {
	configPath    string
	workspacePath string
	verbose       bool
	quiet         bool
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sftpmirror",
		Short: "Compare and mirror a TEST tree onto a PROD tree over SFTP",
		Long: `sftpmirror scans two directory trees over SFTP, reports what differs
and mirrors the TEST (source) tree onto the PROD (target) tree.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "config file (default: search "+config.FileName+".yaml)")
	pf.StringVarP(&a.flags.workspacePath, "workspace", "w", "", "workspace file with the endpoint pair")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&a.flags.quiet, "quiet", "q", false, "only log to the log file")

	root.AddCommand(
		newCompareCommand(a),
		newSyncCommand(a),
		newSyncFileCommand(a),
		newBackupCommand(a),
		newChattrCommand(a),
		newNamesCommand(a, "users"),
		newNamesCommand(a, "groups"),
		newShowCommand(a),
		newCatCommand(a),
		newUploadCommand(a),
		newHistoryCommand(a),
		newLockCommand(a),
		newUnlockCommand(a),
		newWatchCommand(a),
		newWorkspaceCommand(a),
	)
	return root
}

// Execute runs the command tree with ctx
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		logger.Get().Error("Command failed", "error", err)
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		if lock.IsLockError(err) {
			fmt.Fprintln(root.ErrOrStderr(), "Run 'sftpmirror lock' to see the holder, or 'sftpmirror unlock' if that run crashed.")
		}
	}
	logger.Shutdown()
	return err
}
