package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/Ning0612/Sftpmirror/internal/service"
)

func newShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "Show a line diff of one file between source and target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, tgt, err := a.pair(cmd)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			pair, err := wait[service.FilePair](cmd, svc.FetchPair(cmd.Context(), src, tgt, args[0]))
			if err != nil {
				return err
			}
			writeLineDiff(cmd.OutOrStdout(), pair)
			return nil
		},
	}
}

// writeLineDiff prints a unified-style line diff, target to source
func writeLineDiff(w io.Writer, pair service.FilePair) {
	fmt.Fprintf(w, "--- %s\n+++ %s\n", pair.Target.Header(), pair.Source.Header())

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(pair.Target.Content, pair.Source.Content)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	changed := false
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix, changed = "+", true
		case diffmatchpatch.DiffDelete:
			prefix, changed = "-", true
		}
		for _, line := range splitLines(d.Text) {
			fmt.Fprintf(w, "%s%s\n", prefix, line)
		}
	}
	if !changed {
		fmt.Fprintln(w, "(contents are identical)")
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func newCatCommand(a *app) *cobra.Command {
	var header bool

	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print one file from an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := singleSide(cmd)
			if err != nil {
				return err
			}
			ep, err := a.endpoint(cmd, side)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			fc, err := wait[service.FileContent](cmd, svc.FetchFile(cmd.Context(), ep, args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if header {
				fmt.Fprintf(out, "# %s (%s)\n", fc.Header(), fc.Encoding)
			}
			fmt.Fprint(out, fc.Content)
			return nil
		},
	}
	cmd.Flags().String("side", "target", "source or target")
	cmd.Flags().BoolVar(&header, "header", false, "print owner, group and mode first")
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a local file to a path on an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := singleSide(cmd)
			if err != nil {
				return err
			}
			var content []byte
			if from == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(from)
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", from, err)
			}

			ep, err := a.endpoint(cmd, side)
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			res, err := wait[service.UploadComplete](cmd, svc.UploadFile(cmd.Context(), ep, args[0], content))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d bytes to %s:%s\n", res.Bytes, res.Endpoint, res.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "local file to upload, - for stdin")
	cmd.Flags().String("side", "target", "source or target")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
