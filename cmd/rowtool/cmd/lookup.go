package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/andreyvit/rowstore"
)

func newLookupCmd(a *app) *cobra.Command {
	var (
		column   string
		term     string
		from, to string
		prefix   bool
		text     bool
		hash     bool
	)

	cmd := &cobra.Command{
		Use:   "lookup NAME",
		Short: "Find rows by key",
		Long: `Build an index over one column of a stored model and print the rows
matching a term, a prefix or a range of keys.

By default the whole column value is the key. With --text, the column is split
into lowercase words and each word is a key.`,
		Example: `  rowtool lookup people --column name --term Alice
  rowtool lookup people --column name --term al --prefix
  rowtool lookup people --column bio --text --term engineer
  rowtool lookup people --column name --from a --to m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadModel(cmd, args[0])
			if err != nil {
				return err
			}
			idx, an, err := a.buildIndexWithAnalyzer(m, column, text, hash)
			if err != nil {
				return err
			}
			defer idx.Close()

			var ids []rowstore.RowID
			switch {
			case cmd.Flags().Changed("from") || cmd.Flags().Changed("to"):
				var rang rowstore.Range
				if cmd.Flags().Changed("from") {
					rang.Lower, rang.HasLower, rang.LowerInc = from, true, true
				}
				if cmd.Flags().Changed("to") {
					rang.Upper, rang.HasUpper, rang.UpperInc = to, true, true
				}
				ids = idx.LookupRange(rang)
			case cmd.Flags().Changed("term"):
				key := term
				if text {
					words := an.Analyze(term)
					if len(words) != 1 {
						return fmt.Errorf("--term %q must be a single word in --text mode", term)
					}
					key = words[0]
				}
				flags := rowstore.MatchExact
				if prefix {
					flags = rowstore.MatchPrefix
				}
				ids = idx.Lookup(key, flags).IDs()
			default:
				return fmt.Errorf("one of --term, --from or --to is required")
			}

			out := cmd.OutOrStdout()
			for _, id := range ids {
				vals, err := m.Get(id)
				if err != nil {
					return err
				}
				raw, err := json.Marshal(vals)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%v %s\n", id, raw)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", len(ids))
			return nil
		},
	}

	cmd.Flags().StringVar(&column, "column", "", "Column to index (name or position)")
	cmd.Flags().StringVar(&term, "term", "", "Key to look up")
	cmd.Flags().StringVar(&from, "from", "", "Lowest key of a range (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "Highest key of a range (inclusive)")
	cmd.Flags().BoolVar(&prefix, "prefix", false, "Match keys starting with --term")
	cmd.Flags().BoolVar(&text, "text", false, "Index words using the text analyzer")
	cmd.Flags().BoolVar(&hash, "hash", false, "Use a hash index instead of a tree index")
	_ = cmd.MarkFlagRequired("column")

	return cmd
}

func (a *app) buildIndex(m *rowstore.Model, column string, text, hash bool) (rowstore.Index, error) {
	idx, _, err := a.buildIndexWithAnalyzer(m, column, text, hash)
	return idx, err
}

func (a *app) buildIndexWithAnalyzer(m *rowstore.Model, column string, text, hash bool) (rowstore.Index, rowstore.Analyzer, error) {
	scm := m.Schema()
	col, err := resolveColumn(scm, column)
	if err != nil {
		return nil, nil, err
	}

	var reader rowstore.Reader
	switch ft := scm.Field(col); ft {
	case rowstore.TypeString:
		reader = rowstore.StringColumn(col)
	case rowstore.TypeInt32:
		reader = rowstore.Int32Column(col)
	case rowstore.TypeUint32:
		reader = rowstore.Uint32Column(col)
	case rowstore.TypeInt64:
		reader = rowstore.Int64Column(col)
	case rowstore.TypeUint64:
		reader = rowstore.Uint64Column(col)
	default:
		return nil, nil, fmt.Errorf("column %s has type %v, which cannot be indexed", column, ft)
	}

	var an rowstore.Analyzer
	if text {
		tag := language.Und
		if a.cfg.Language != "" {
			tag, err = language.Parse(a.cfg.Language)
			if err != nil {
				return nil, nil, fmt.Errorf("config language: %w", err)
			}
		}
		an = rowstore.NewTextAnalyzer(rowstore.WithLanguage(tag))
	} else {
		an = rowstore.NewBaseAnalyzer()
	}

	ext := rowstore.AnalyzerExtractor(reader, an)
	opts := []rowstore.IndexOption{
		rowstore.WithIndexName(m.Name() + "." + scm.ColumnName(col)),
		rowstore.WithIndexLogger(a.logger),
	}
	if hash {
		return rowstore.NewHashIndex(m, ext, opts...), an, nil
	}
	return rowstore.NewTreeIndex(m, ext, opts...), an, nil
}

func resolveColumn(scm *rowstore.Schema, column string) (int, error) {
	if col, ok := scm.ColumnIndex(column); ok {
		return col, nil
	}
	col, err := strconv.Atoi(column)
	if err != nil || col < 0 || col >= scm.Len() {
		return 0, fmt.Errorf("unknown column %q in %v", column, scm)
	}
	return col, nil
}
