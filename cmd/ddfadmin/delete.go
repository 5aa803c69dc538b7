package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redbco/ddfserver/internal/catalog"
)

// deleteCmd implements `ddfadmin delete <name> <version|_ALL_>` (spec
// §4.1/§6): removes catalog rows and their backing tables.
var deleteCmd = &cobra.Command{
	Use:   "delete <name> <version>",
	Short: "Remove one, several, or all versions of a dataset",
	Long: `version may be a literal version, a comma-separated list, "latest",
or "_ALL_". Removing the default most-recent version is rejected unless
_ALL_ is given explicitly (spec §4.1).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, versionArg := args[0], args[1]

		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		all := versionArg == catalog.AllVersions
		var versions []string
		if !all {
			versions = splitVersions(versionArg)
		}

		// Remove drops the catalog rows and their backing tables inside one
		// transaction (spec §8 round-trip law): either both go, or neither
		// does — no orphaned table can survive a failed catalog delete.
		if _, err := e.catalog.Remove(ctx, name, versions, all); err != nil {
			return err
		}

		fmt.Printf("%s %s deleted\n", name, versionArg)
		return nil
	},
}

func splitVersions(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
