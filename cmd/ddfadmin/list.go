package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// listCmd implements `ddfadmin list [name]` (spec §4.1/§6).
var listCmd = &cobra.Command{
	Use:   "list [name]",
	Short: "List datasets and versions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		items, err := e.catalog.List(ctx, name)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tVERSION\tDEFAULT\tIMPORTED")
		for _, it := range items {
			def := ""
			if it.Default {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Name, it.Version, def, it.Imported.Format("2006-01-02T15:04:05Z"))
		}
		return tw.Flush()
	},
}
