package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/service"
)

func newChattrCommand(a *app) *cobra.Command {
	var change service.AttributeChange

	cmd := &cobra.Command{
		Use:   "chattr <path>...",
		Short: "Change owner, group or permissions of files",
		Long: `Change owner, group and/or permission bits of paths relative to the roots.
Names are resolved on each endpoint. With --side both, a path that only
exists on one endpoint is only changed there.`,
		Example: `  sftpmirror chattr app/config.php --owner www-data --mode 640
  sftpmirror chattr bin/run.sh --mode 755 --side target`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := parseSide(cmd)
			if err != nil {
				return err
			}
			if change.Empty() {
				return fmt.Errorf("nothing to change: give --owner, --group or --mode")
			}
			if change.Perms != "" {
				if _, err := domain.ParseOctal(change.Perms); err != nil {
					return err
				}
			}

			src, tgt, err := a.pair(cmd)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}

			var rec *domain.Reconciliation
			if side == service.SideBoth {
				if rec, err = wait[*domain.Reconciliation](cmd, svc.Compare(cmd.Context(), src, tgt)); err != nil {
					return err
				}
			}

			reqs := make([]service.AttributeRequest, 0, len(args))
			for _, p := range args {
				c := change
				c.Path = p
				reqs = append(reqs, service.AttributeRequest{AttributeChange: c, Side: side})
			}

			res, err := wait[service.AttributeBatchResult](cmd, svc.SetAttributesBatch(cmd.Context(), src, tgt, rec, reqs))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, ok := range res.Applied {
				fmt.Fprintf(out, "updated  %s: %s\n", ok.Endpoint, ok.Path)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(out, "failed   %v\n", e)
			}
			fmt.Fprintln(out, res.String())
			if len(res.Errors) > 0 {
				return fmt.Errorf("%d attribute change(s) failed", len(res.Errors))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&change.Owner, "owner", "", "new owner name")
	f.StringVar(&change.Group, "group", "", "new group name")
	f.StringVar(&change.Perms, "mode", "", "new permission bits in octal, e.g. 644")
	f.String("side", "both", "source, target or both")
	return cmd
}

// newNamesCommand builds "users" or "groups"
func newNamesCommand(a *app, kind string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   kind,
		Short: fmt.Sprintf("List the %s known to an endpoint", kind),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := parseSide(cmd)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}

			var streams []func() (service.NameList, error)
			for _, s := range []service.Side{service.SideSource, service.SideTarget} {
				if side&s == 0 {
					continue
				}
				ep, err := a.endpoint(cmd, s)
				if err != nil {
					return err
				}
				// both endpoints are queried concurrently
				stream := svc.ListUsers(cmd.Context(), ep)
				if kind == "groups" {
					stream = svc.ListGroups(cmd.Context(), ep)
				}
				streams = append(streams, func() (service.NameList, error) {
					return wait[service.NameList](cmd, stream)
				})
			}

			out := cmd.OutOrStdout()
			for _, get := range streams {
				list, err := get()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (%d):\n", list.Endpoint, len(list.Names))
				for _, n := range list.Names {
					fmt.Fprintf(out, "  %s\n", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("side", "both", "source, target or both")
	return cmd
}
