package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/rowstore/changelog"
)

func (a *app) changelogOptions(fileName string) changelog.Options {
	return changelog.Options{
		FileName: fileName,
		Logger:   a.logger,
		Verbose:  a.cfg.Verbose,
	}
}

func newReplayCmd(a *app) *cobra.Command {
	var base, fileName string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "replay NAME DIR",
		Short: "Apply a changelog to a stored model",
		Long: `Load a stored model, apply the changes recorded in a changelog directory
and save the result under NAME.

The changelog must have been attached to a model holding the same rows as the
one loaded, normally the snapshot saved right before attaching. Use --base to
start from a different snapshot than NAME.`,
		Example: `  rowtool replay people ./people-changes
  rowtool replay people-today ./people-changes --base people-yesterday`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, dir := args[0], args[1]
			if base == "" {
				base = name
			}
			m, err := a.loadModel(cmd, base)
			if err != nil {
				return err
			}

			stats, err := changelog.Replay(dir, m, a.changelogOptions(fileName))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied %d changes from %d segments", stats.Applied, stats.Segments)
			if stats.Discarded > 0 {
				fmt.Fprintf(out, ", dropped %d uncommitted", stats.Discarded)
			}
			fmt.Fprintln(out)
			if dryRun {
				return nil
			}

			store, err := a.openStore(false)
			if err != nil {
				return err
			}
			defer store.Close()
			info, err := store.Save(name, m)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %d rows into %s (rev %s)\n", info.Rows, name, info.Revision)
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "Snapshot to replay onto (defaults to NAME)")
	cmd.Flags().StringVar(&fileName, "files", changelog.DefaultFileName, "Segment file name pattern")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Replay without saving the result")

	return cmd
}

func newChangesCmd(a *app) *cobra.Command {
	var fileName string

	cmd := &cobra.Command{
		Use:   "changes DIR",
		Short: "Print the records of a changelog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := changelog.Dump(args[0], a.changelogOptions(fileName))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&fileName, "files", changelog.DefaultFileName, "Segment file name pattern")

	return cmd
}
