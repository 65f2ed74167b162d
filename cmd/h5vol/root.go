package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scigolib/h5vol"
	"github.com/scigolib/h5vol/internal/config"
)

// app carries the state shared by subcommands. The runtime is built in the
// root pre-run once flags and configuration are known.
type app struct {
	cfgFile   string
	verbose   bool
	connector string

	rt *h5vol.Runtime
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "h5vol",
		Short: "Inspect and edit HDF5 files through the virtual object layer",
		Long: `h5vol opens HDF5 files through the configured VOL connector.

The default connector, plugin search path and external link prefix are read
from h5vol.yaml, then from HDF5_VOL_CONNECTOR, HDF5_PLUGIN_PATH,
HDF5_PLUGIN_PRELOAD and HDF5_EXT_PREFIX. --connector overrides both.

Commands:
  connectors   List registered connectors
  filters      List filter codecs
  plugin-path  Print the plugin search path
  ls           List the links of a group
  mkgroup      Create a group and its parents
  exists       Check whether a path resolves`,
		Version:           "0.1.0-dev",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.rt == nil {
				return nil
			}
			return a.rt.Close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./h5vol.yaml or ~/.h5vol/h5vol.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.connector, "connector", "", `default connector as "<name> [info]"`)

	rootCmd.AddCommand(
		newConnectorsCmd(a),
		newFiltersCmd(a),
		newPluginPathCmd(a),
		newLsCmd(a),
		newMkgroupCmd(a),
		newExistsCmd(a),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	v, err := config.New(a.cfgFile)
	if err != nil {
		return err
	}
	if err := v.BindPFlag("vol.connector", cmd.Root().PersistentFlags().Lookup("connector")); err != nil {
		return err
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	a.rt, err = h5vol.New(cmd.Context(), h5vol.WithConfig(cfg), h5vol.WithLogger(logger))
	return err
}
