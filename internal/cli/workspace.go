package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/config"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/workspace"
)

func newWorkspaceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Save, load and show endpoint pairs",
		Long: `A workspace file holds a source/target endpoint pair. Pass one with
--workspace, or make it the default with "workspace load".`,
	}
	cmd.AddCommand(
		newWorkspaceSaveCommand(a),
		newWorkspaceLoadCommand(a),
		newWorkspaceShowCommand(a),
	)
	return cmd
}

func newWorkspaceSaveCommand(a *app) *cobra.Command {
	var (
		withPassword bool
		clone        workspace.Clone
	)

	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Write the current endpoint pair to a workspace file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace.Workspace{Source: a.source, Target: a.target, Clone: clone}
			path := config.ExpandPath(args[0])
			if err := workspace.NewStore(afero.NewOsFs()).Save(path, ws, withPassword); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workspace saved to %s\n", path)
			if !withPassword {
				fmt.Fprintln(cmd.OutOrStdout(), "Passwords were not saved (use --with-password to include them).")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&withPassword, "with-password", false, "store passwords in the file")
	f.BoolVar(&clone.Username, "clone-username", false, "use the source username for the target")
	f.BoolVar(&clone.Password, "clone-password", false, "use the source password for the target")
	f.BoolVar(&clone.Root, "clone-root", false, "use the source root for the target")
	return cmd
}

func newWorkspaceLoadCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Make a workspace file the default endpoint pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := workspace.NewStore(afero.NewOsFs())

			var ws workspace.Workspace
			if err := store.Load(config.ExpandPath(args[0]), &ws); err != nil {
				return err
			}
			src, tgt := ws.Resolved()
			for _, ep := range []domain.Endpoint{src, tgt} {
				if ep.Host == "" || ep.Root == "" {
					return fmt.Errorf("%w: %s needs a host and a root", domain.ErrConfigInvalid, ep.Label())
				}
			}

			dest := a.defaultWorkspacePath()
			withPassword := ws.Source.Password != "" || ws.Target.Password != ""
			if err := store.Save(dest, ws, withPassword); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default workspace is now %s -> %s\n", src, tgt)
			return nil
		},
	}
}

func newWorkspaceShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [file]",
		Short: "Print the endpoint pair in effect, or the one in a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, tgt := a.source, a.target
			if len(args) == 1 {
				var ws workspace.Workspace
				if err := workspace.NewStore(afero.NewOsFs()).Load(config.ExpandPath(args[0]), &ws); err != nil {
					return err
				}
				src, tgt = ws.Resolved()
			}

			out := cmd.OutOrStdout()
			for _, ep := range []domain.Endpoint{src, tgt} {
				auth := "password prompt"
				switch {
				case ep.PrivateKeyPath != "":
					auth = "key " + ep.PrivateKeyPath
				case ep.Password != "":
					auth = "password (stored)"
				}
				fmt.Fprintf(out, "%s\n  auth: %s\n", ep, auth)
			}
			return nil
		},
	}
}
