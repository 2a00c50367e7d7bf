// Package cmd provides the commands of the rowtool CLI.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/andreyvit/rowstore"
	"github.com/andreyvit/rowstore/snapshot"
)

const defaultDBPath = "rowstore.db"

// app holds the state shared by all commands of one invocation.
type app struct {
	configPath string
	cfg        Config
	logger     *slog.Logger
}

// NewRootCmd creates the root command for the rowtool CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "rowtool",
		Short: "Inspect and edit rowstore snapshots",
		Long: `rowtool works with model snapshots stored in a Bolt file: it lists them,
dumps their rows, imports rows from YAML, runs index lookups and brings
snapshots up to date from a changelog.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&a.cfg.DB, "db", defaultDBPath, "Snapshot database file")
	cmd.PersistentFlags().BoolVarP(&a.cfg.Verbose, "verbose", "v", false, "Log model and index activity")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		return a.prepare(cmd)
	}

	cmd.AddCommand(newListCmd(a))
	cmd.AddCommand(newDumpCmd(a))
	cmd.AddCommand(newImportCmd(a))
	cmd.AddCommand(newLookupCmd(a))
	cmd.AddCommand(newDeleteCmd(a))
	cmd.AddCommand(newReplayCmd(a))
	cmd.AddCommand(newChangesCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// prepare merges the config file under the flags the user set explicitly.
func (a *app) prepare(cmd *cobra.Command) error {
	if a.configPath != "" {
		cfg, err := loadConfig(a.configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if !flags.Changed("db") && cfg.DB != "" {
			a.cfg.DB = cfg.DB
		}
		if !flags.Changed("verbose") {
			a.cfg.Verbose = cfg.Verbose
		}
		a.cfg.Uncompressed = cfg.Uncompressed
		a.cfg.Language = cfg.Language
	}

	level := slog.LevelWarn
	if a.cfg.Verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) openStore(readOnly bool) (*snapshot.Store, error) {
	return snapshot.Open(a.cfg.DB, snapshot.Options{
		Logger:       a.logger,
		Uncompressed: a.cfg.Uncompressed,
		ReadOnly:     readOnly,
	})
}

func (a *app) modelOptions(cmd *cobra.Command, name string) rowstore.Options {
	w := cmd.ErrOrStderr()
	return rowstore.Options{
		Name:    name,
		Logger:  a.logger,
		Verbose: a.cfg.Verbose,
		Logf: func(format string, args ...any) {
			fmt.Fprintf(w, format+"\n", args...)
		},
	}
}

// loadModel opens the store read-only and loads one model from it.
func (a *app) loadModel(cmd *cobra.Command, name string) (*rowstore.Model, error) {
	store, err := a.openStore(true)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Load(name, a.modelOptions(cmd, name))
}
