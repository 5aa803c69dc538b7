// Command ddfadmin is the catalog administration CLI of spec §4.6/§6:
// load, list, delete, make-default, and purge operate directly against
// the relational store, independent of the query service process.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redbco/ddfserver/internal/assets"
	"github.com/redbco/ddfserver/internal/catalog"
	"github.com/redbco/ddfserver/internal/loader"
	"github.com/redbco/ddfserver/internal/notify"
	"github.com/redbco/ddfserver/pkg/config"
	"github.com/redbco/ddfserver/pkg/dbpool"
	"github.com/redbco/ddfserver/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "ddfadmin",
	Short:         "Administer DDF datasets",
	Long:          "Load, list, version, and remove DDF datasets in the relational store.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(makeDefaultCmd)
	rootCmd.AddCommand(purgeCmd)
}

// env bundles the resources every subcommand needs, built fresh per
// invocation and torn down via Close.
type env struct {
	cfg     *config.Config
	log     *logger.Logger
	pool    *dbpool.Pool
	catalog *catalog.Catalog
}

func newEnv(ctx context.Context) (*env, error) {
	cfg := config.Load()
	log := logger.New("ddfadmin", "1.0.0")
	log.SetMinLevel(logger.ParseLevel(cfg.Get("LOG_LEVEL")))

	pool, err := dbpool.New(ctx, dbpool.FromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &env{
		cfg:     cfg,
		log:     log,
		pool:    pool,
		catalog: catalog.New(pool, log),
	}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

func (e *env) newLoader() (*loader.Loader, error) {
	store, err := assets.NewFromConfig(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("initialising asset store: %w", err)
	}
	notifier := notify.NewFromConfig(e.cfg, e.log)
	return loader.New(e.pool, e.catalog, store, notifier, e.log), nil
}
