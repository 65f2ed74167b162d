package main

import (
	"errors"
	"fmt"
	"math"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scigolib/h5vol"
)

func newConnectorsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List registered connectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVALUE\tVERSION\tCAPS\tREFS")
			for _, c := range a.rt.Connectors() {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%#x\t%d\n", c.ID, c.Name, c.Value, c.Version, c.Capabilities, c.Refs)
			}
			fmt.Fprintf(w, "\ndefault: %s\n", a.rt.DefaultConnector())
			return w.Flush()
		},
	}
}

func newFiltersCmd(a *app) *cobra.Command {
	var check []uint
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "List filter codecs",
		Long: `List the registered filter codecs.

With --check, report for each id whether the filter is built in or can be
loaded from the plugin path.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if len(check) > 0 {
				for _, id := range check {
					if id > math.MaxUint16 {
						return fmt.Errorf("filter id %d out of range", id)
					}
					fmt.Fprintf(out, "%d\t%t\n", id, a.rt.FilterAvailable(cmd.Context(), uint16(id)))
				}
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for _, f := range a.rt.Filters() {
				fmt.Fprintf(w, "%d\t%s\n", f.ID, f.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().UintSliceVar(&check, "check", nil, "filter ids to check for availability")
	return cmd
}

func newPluginPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plugin-path",
		Short: "Print the plugin search path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if !a.rt.PluginsEnabled() {
				fmt.Fprintln(out, "plugins disabled")
			}
			for _, dir := range a.rt.PluginPath() {
				fmt.Fprintln(out, dir)
			}
			return nil
		},
	}
}

func newLsCmd(a *app) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "ls <file> [path]",
		Short: "List the links of a group",
		Long: `List the links of the group at path, "/" by default.

Hard links show the type of their target. Other links show the link type
and are not followed.

Examples:
  h5vol ls data.h5
  h5vol ls data.h5 /experiments -r`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 2 {
				dir = args[1]
			}
			ctx := cmd.Context()
			f, err := a.rt.OpenFile(ctx, args[0], h5vol.OpenReadOnly)
			if err != nil {
				return err
			}
			defer f.Close(ctx)

			links, err := f.Links(ctx, dir, recursive)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, l := range links {
				kind := l.Type.String()
				if l.Type == h5vol.LinkHard {
					typ, err := f.TypeOf(ctx, path.Join(dir, l.Name))
					if err != nil {
						return err
					}
					kind = typ.String()
				}
				fmt.Fprintf(w, "%s\t%s\n", kind, l.Name)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list subgroups")
	return cmd
}

func newMkgroupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkgroup <file> <path>",
		Short: "Create a group and its parents",
		Long: `Create the group at path, creating missing parent groups. The file is
created if it does not exist.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			exists, err := a.rt.FileExists(ctx, args[0])
			if err != nil {
				return err
			}
			var f *h5vol.File
			if exists {
				f, err = a.rt.OpenFile(ctx, args[0], h5vol.OpenReadWrite)
			} else {
				f, err = a.rt.CreateFile(ctx, args[0], h5vol.CreateExclusive)
			}
			if err != nil {
				return err
			}

			g, err := f.CreateGroup(ctx, args[1], h5vol.WithParents())
			if err == nil {
				err = g.Close(ctx)
			}
			return errors.Join(err, f.Close(ctx))
		},
	}
}

func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <file> <path>",
		Short: "Check whether a path resolves",
		Long: `Print whether every component of path resolves to an object. Soft,
external and user-defined links along the path are followed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := a.rt.OpenFile(ctx, args[0], h5vol.OpenReadOnly)
			if err != nil {
				return err
			}
			defer f.Close(ctx)

			ok, err := f.Exists(ctx, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
}
