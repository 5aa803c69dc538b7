package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/redbco/ddfserver/internal/loader"
)

var (
	loadDir        string
	loadPublish    bool
	loadOnlyParse  bool
	loadAssetsOnly bool
	loadPassword   string
)

// loadCmd implements `ddfadmin load` (spec §4.5/§6).
var loadCmd = &cobra.Command{
	Use:   "load <name> [version]",
	Short: "Ingest a datapackage into the store",
	Long: `Ingest a Data Package directory as a new dataset version (spec §4.5).

With no version argument, one is assigned per the date-based scheme (§4.6).
--only-parse validates the package without writing anything. --assets-only
re-uploads the assets directory of an existing version (the given one, or
the most recently imported) without touching schema or data.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		version := ""
		if len(args) == 2 {
			version = args[1]
		}

		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		ld, err := e.newLoader()
		if err != nil {
			return err
		}

		opts := loader.Options{
			Dir:         loadDir,
			Name:        name,
			Version:     version,
			Publish:     loadPublish,
			OnlyParse:   loadOnlyParse,
			AssetsOnly:  loadAssetsOnly,
			Password:    loadPassword,
			MaxColumns:  e.cfg.Int("DB_MAX_COLUMNS"),
			MaxRowBytes: 8000,
		}

		resolved, err := ld.Load(ctx, opts)
		if err != nil {
			return err
		}

		if loadOnlyParse {
			fmt.Printf("%s %s validated\n", name, resolved)
			return nil
		}
		fmt.Printf("%s %s loaded\n", name, resolved)
		return nil
	},
}

func init() {
	loadCmd.Flags().StringVarP(&loadDir, "dir", "d", ".", "datapackage directory")
	loadCmd.Flags().BoolVar(&loadPublish, "publish", false, "mark the loaded version as default")
	loadCmd.Flags().BoolVar(&loadOnlyParse, "only-parse", false, "validate without writing to the store")
	loadCmd.Flags().BoolVarP(&loadAssetsOnly, "assets-only", "a", false, "only (re-)upload the assets directory")
	loadCmd.Flags().StringVar(&loadPassword, "password", "", "require HTTP Basic auth with this password")
}
