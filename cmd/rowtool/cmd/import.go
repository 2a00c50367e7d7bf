package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andreyvit/rowstore"
)

// importFile is the YAML layout accepted by import:
//
//	schema: [i, s]
//	columns: [id, name]
//	rows:
//	  - [1, Alice]
//	  - [2, Bob]
type importFile struct {
	Schema  []string `yaml:"schema"`
	Columns []string `yaml:"columns"`
	Rows    [][]any  `yaml:"rows"`
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import NAME FILE",
		Short: "Create or replace a model from a YAML file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			m, err := readImportFile(path, a.modelOptions(cmd, name))
			if err != nil {
				return err
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
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows into %s (rev %s)\n", info.Rows, name, info.Revision)
			return nil
		},
	}
}

func readImportFile(path string, opt rowstore.Options) (*rowstore.Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f importFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	scm, err := rowstore.ParseSchema(f.Schema...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(f.Columns) > 0 {
		if len(f.Columns) != scm.Len() {
			return nil, fmt.Errorf("%s: %d columns for %d fields", path, len(f.Columns), scm.Len())
		}
		seen := make(map[string]bool, len(f.Columns))
		for _, c := range f.Columns {
			if seen[c] {
				return nil, fmt.Errorf("%s: duplicate column %q", path, c)
			}
			seen[c] = true
		}
		scm = scm.WithColumnNames(f.Columns...)
	}

	m := rowstore.NewModel(scm, opt)
	m.BeginChangeset()
	defer m.EndChangeset()
	for i, vals := range f.Rows {
		for j, v := range vals {
			vals[j] = yamlValue(scm.Field(j), v)
		}
		if _, err := m.Append(vals...); err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+1, err)
		}
	}
	return m, nil
}

// yamlValue adapts YAML scalars to the field type where the YAML type is
// narrower: integers in a double column, numbers in a string column.
func yamlValue(ft rowstore.FieldType, v any) any {
	switch ft {
	case rowstore.TypeDouble:
		if i, ok := v.(int); ok {
			return float64(i)
		}
	case rowstore.TypeString:
		switch v := v.(type) {
		case int, float64, bool:
			return fmt.Sprint(v)
		}
	}
	return v
}
