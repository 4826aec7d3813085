package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/domain"
)

func newCompareCommand(a *app) *cobra.Command {
	var identical bool

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Show how the target differs from the source",
		Long: `Scan both trees and list differences:
  +  only on the source (would be copied)
  -  only on the target (would be deleted with --delete)
  ~  content differs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := a.compare(cmd)
			if err != nil {
				return err
			}
			printReconciliation(cmd.OutOrStdout(), rec, identical)
			return nil
		},
	}
	cmd.Flags().BoolVar(&identical, "identical", false, "also list identical files")
	return cmd
}

func (a *app) compare(cmd *cobra.Command) (*domain.Reconciliation, error) {
	src, tgt, err := a.pair(cmd)
	if err != nil {
		return nil, err
	}
	svc, err := a.service()
	if err != nil {
		return nil, err
	}
	return wait[*domain.Reconciliation](cmd, svc.Compare(cmd.Context(), src, tgt))
}

func printReconciliation(w io.Writer, rec *domain.Reconciliation, identical bool) {
	for _, d := range rec.OnlySourceDirs {
		fmt.Fprintf(w, "+ %s/\n", d)
	}
	for _, p := range rec.OnlySource {
		fmt.Fprintf(w, "+ %s\n", p)
	}
	for _, d := range rec.OnlyTargetDirs {
		fmt.Fprintf(w, "- %s/\n", d)
	}
	for _, p := range rec.OnlyTarget {
		fmt.Fprintf(w, "- %s\n", p)
	}
	for _, p := range rec.Changed {
		src, tgt := rec.Source.Files[p], rec.Target.Files[p]
		fmt.Fprintf(w, "~ %s  (%s %s:%s -> %s %s:%s)\n", p,
			src.OctalMode, src.Owner, src.Group, tgt.OctalMode, tgt.Owner, tgt.Group)
	}
	if identical {
		for _, p := range rec.Identical {
			fmt.Fprintf(w, "= %s\n", p)
		}
	}

	if rec.InSync() {
		fmt.Fprintln(w, "Trees are in sync.")
	}
	fmt.Fprintln(w, rec.Summary())
}
