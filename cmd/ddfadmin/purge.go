package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// purgeCmd implements `ddfadmin purge <name>` (spec §4.1/§6): keep the
// default version, any versions imported after it, and the one preceding
// it, or the three most recent versions when no default is set.
var purgeCmd = &cobra.Command{
	Use:   "purge <name>",
	Short: "Remove old versions beyond the retention window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		// Purge resolves to Remove, which drops catalog rows and backing
		// tables in one transaction (spec §8 round-trip law).
		tables, err := e.catalog.Purge(ctx, name)
		if err != nil {
			return err
		}

		fmt.Printf("%s purged, %d backing table(s) removed\n", name, len(tables))
		return nil
	},
}
