package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// makeDefaultCmd implements `ddfadmin make-default <name> <version|latest>`
// (spec §4.1/§6): atomically reassigns which version answers version-less
// requests.
var makeDefaultCmd = &cobra.Command{
	Use:   "make-default <name> <version>",
	Short: "Mark a dataset version as default",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, version := args[0], args[1]

		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.catalog.MarkDefault(ctx, name, version); err != nil {
			return err
		}

		fmt.Printf("%s %s is now default\n", name, version)
		return nil
	},
}
