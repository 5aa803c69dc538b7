// Command ddfserver runs the DDF query HTTP service (spec §4.7): it
// resolves datasets and versions through the catalog, compiles and
// executes queries against the relational store, and streams results.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redbco/ddfserver/internal/assets"
	"github.com/redbco/ddfserver/internal/catalog"
	"github.com/redbco/ddfserver/internal/schema"
	ddfhttp "github.com/redbco/ddfserver/internal/httpapi"
	"github.com/redbco/ddfserver/pkg/admission"
	"github.com/redbco/ddfserver/pkg/config"
	"github.com/redbco/ddfserver/pkg/dbpool"
	"github.com/redbco/ddfserver/pkg/logger"
)

const serviceVersion = "1.0.0"

func main() {
	cfg := config.Load()

	log := logger.New("ddfserver", serviceVersion)
	log.SetMinLevel(logger.ParseLevel(cfg.Get("LOG_LEVEL")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(ctx, dbpool.FromConfig(cfg))
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	cat := catalog.New(pool, log)

	store, err := assets.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("failed to initialise asset store: %v", err)
	}
	schemaLoader := func(name, version string) (*schema.Model, error) {
		entry, err := cat.Lookup(ctx, name, version)
		if err != nil {
			return nil, err
		}
		return entry.Schema, nil
	}
	schemaCacheSize := cfg.Int("SCHEMA_CACHE_SIZE")
	schemas, err := schema.NewCache(schemaCacheSize, schemaLoader)
	if err != nil {
		log.Fatalf("failed to initialise schema cache: %v", err)
	}

	testMode := cfg.Bool("TEST_MODE")
	lagSampler := admission.NewLagSampler(250*time.Millisecond, cfg.Duration("CPU_THROTTLE"))
	if !testMode {
		lagSampler.Start()
		defer lagSampler.Stop()
	}
	queueGate := admission.NewQueueGate(int32(cfg.Int("DB_THROTTLE")), pool.QueuedAcquires)
	controller := admission.NewController(lagSampler, queueGate, testMode)

	server := ddfhttp.New(cat, pool, schemas, controller, store, log, cfg)

	addr := fmt.Sprintf(":%d", cfg.Int("HTTP_PORT"))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("error during graceful shutdown: %v", err)
		}
	}()

	log.Infof("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}
