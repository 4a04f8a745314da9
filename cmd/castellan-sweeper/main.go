package main

import (
	"context"
	"flag"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/castellanhq/castellan/pkg/auth"
	"github.com/castellanhq/castellan/pkg/config"
	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/storage"
)

var (
	configFile = flag.String("config", "", "Path to YAML config file (optional; CASTELLAN_* env vars override)")
	schedule   = flag.String("schedule", "30 3 * * *", "Cron schedule for the sweep (default: 03:30 daily)")
	retention  = flag.Duration("retention", 30*24*time.Hour, "Age after which read notifications are purged")
	runOnce    = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	notifStore := notifications.NewStore(db)
	tokenStore := auth.NewTokenStore(db)

	sweep := func() {
		runID := uuid.New().String()
		entry := log.WithField("run_id", runID)
		entry.Info("Starting sweep")

		cutoff := time.Now().Add(-*retention)
		purged, err := notifStore.PurgeRead(ctx, cutoff)
		if err != nil {
			entry.WithError(err).Error("Failed to purge read notifications")
		} else {
			entry.WithField("purged", purged).Info("Purged read notifications")
		}

		expired, err := tokenStore.DeleteExpiredTokens(ctx, time.Now())
		if err != nil {
			entry.WithError(err).Error("Failed to delete expired tokens")
		} else {
			entry.WithField("deleted", expired).Info("Deleted expired API tokens")
		}
	}

	if *runOnce {
		sweep()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, sweep); err != nil {
		log.WithError(err).Fatal("Failed to schedule sweep")
	}
	c.Start()
	log.WithField("schedule", *schedule).Info("Castellan sweeper started")

	sm := observability.NewShutdownManager(
		observability.NewLogger(cfg.Observability.LogLevel, log.Out), nil, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-c.Stop().Done()
		return nil
	})
	if err := sm.WaitForShutdown(); err != nil {
		log.WithError(err).Fatal("Shutdown failed")
	}
	log.Info("Sweeper stopped")
}
