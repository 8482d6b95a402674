// Command rudderd hosts a Rudder Engine end to end: it wires a
// demonstration Postgres source, a continuous query, and a debug
// reaction together, and runs a cron-scheduled periodic snapshot resync
// alongside the live change stream.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowbase/rudder/internal/rudderlog"
	pgsource "github.com/flowbase/rudder/examples/sources/postgres"
	"github.com/flowbase/rudder/pkg/engine"
	"github.com/flowbase/rudder/pkg/query"
	"github.com/flowbase/rudder/pkg/reaction"
	"github.com/flowbase/rudder/pkg/registry"

	debugreaction "github.com/flowbase/rudder/examples/reactions/debug"
)

func main() {
	log := rudderlog.NewFromEnv("rudderd")

	dsn := os.Getenv("RUDDER_POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("RUDDER_POSTGRES_DSN is required")
	}
	table := envOr("RUDDER_TABLE", "orders")
	entityType := envOr("RUDDER_ENTITY_TYPE", "order")

	reg := registry.New()
	reg.RegisterProvider(&debugreaction.Provider{Log: log})

	eng := engine.New(engine.DefaultConfig(), reg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := pgsource.Open(ctx, pgsource.Config{
		ID:         "orders-db",
		Name:       "orders",
		DSN:        dsn,
		Table:      table,
		EntityType: entityType,
		IDColumn:   "id",
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open postgres source")
	}

	if err := eng.AddSource(ctx, src); err != nil {
		log.WithError(err).Fatal("failed to register source")
	}

	if _, err := eng.AddQuery(query.Continuous{
		ID:    "all-orders",
		Name:  "all orders",
		Query: "MATCH (o:" + entityType + ")",
	}); err != nil {
		log.WithError(err).Fatal("failed to register query")
	}

	if _, err := eng.AddReaction(ctx, reaction.Config{
		ID:       "debug-log",
		Kind:     debugreaction.Kind,
		QueryIDs: []string{"all-orders"},
	}); err != nil {
		log.WithError(err).Fatal("failed to register reaction")
	}

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start engine")
	}

	go eng.Run(ctx)

	scheduler := cron.New(cron.WithSeconds())
	resyncSpec := envOr("RUDDER_RESYNC_CRON", "0 */5 * * * *") // every 5 minutes
	if _, err := scheduler.AddFunc(resyncSpec, func() {
		resyncCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := eng.ResyncSource(resyncCtx, src); err != nil {
			log.WithError(err).Warn("periodic snapshot resync failed")
		}
	}); err != nil {
		log.WithError(err).Fatal("invalid resync cron schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Info("rudderd running")
	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		log.WithError(err).Warn("engine did not stop cleanly")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
