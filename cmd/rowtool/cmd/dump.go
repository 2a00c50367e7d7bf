package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andreyvit/rowstore"
)

func newDumpCmd(a *app) *cobra.Command {
	var stats bool
	var column string
	var text bool

	cmd := &cobra.Command{
		Use:   "dump NAME",
		Short: "Print a model's schema and rows",
		Long: `Print a stored model's schema and rows in store order.

With --index, also build an index over the given string column and print its
terms with the rows that carry them.`,
		Example: `  rowtool dump people
  rowtool dump people --index name --text`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadModel(cmd, args[0])
			if err != nil {
				return err
			}

			flags := rowstore.DumpHeaders | rowstore.DumpRows
			if stats {
				flags |= rowstore.DumpStats
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, m.Dump(flags))

			if column != "" {
				idx, err := a.buildIndex(m, column, text, false)
				if err != nil {
					return err
				}
				defer idx.Close()
				fmt.Fprint(out, rowstore.DumpIndex(idx, flags|rowstore.DumpTerms))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "Include statistics")
	cmd.Flags().StringVar(&column, "index", "", "Also dump an index over this column (name or position)")
	cmd.Flags().BoolVar(&text, "text", false, "Index words using the text analyzer")

	return cmd
}
