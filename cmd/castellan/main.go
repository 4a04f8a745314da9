package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/castellanhq/castellan/pkg/api"
	"github.com/castellanhq/castellan/pkg/auth"
	"github.com/castellanhq/castellan/pkg/config"
	"github.com/castellanhq/castellan/pkg/grants"
	"github.com/castellanhq/castellan/pkg/hierarchy"
	"github.com/castellanhq/castellan/pkg/notifications"
	"github.com/castellanhq/castellan/pkg/observability"
	"github.com/castellanhq/castellan/pkg/permissions"
	"github.com/castellanhq/castellan/pkg/push"
	"github.com/castellanhq/castellan/pkg/storage"
	"github.com/castellanhq/castellan/pkg/users"
)

// permissionCacheTTL bounds how long a revoked grant can keep
// answering permission checks from the cache.
const permissionCacheTTL = time.Minute

func main() {
	configFile := flag.String("config", "", "Path to YAML config file (optional; CASTELLAN_* env vars override)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx := context.Background()
	db, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	userStore := users.NewStore(db)
	permStore := permissions.NewStore(db)
	treeStore := hierarchy.NewStore(db)
	notifStore := notifications.NewStore(db)
	grantStore := grants.NewStore(db)
	manager := auth.NewManager(userStore, auth.NewTokenStore(db), cfg.Auth.TokenTTL, cfg.Auth.BcryptCost)

	hub := push.NewHub(push.NewRegistry(metrics), cfg.Push.WriteTimeout, cfg.Push.SendBuffer, cfg.Server.AllowedOrigins, logger)

	// With Redis configured, pushes fan out across API instances;
	// without it the hub only reaches local connections.
	var pusher notifications.Pusher = hub
	var bridge *push.Bridge
	var redisClient *redis.Client
	if cfg.Push.RedisURL != "" {
		bridge, err = push.NewBridge(push.BridgeConfig{
			RedisURL:      cfg.Push.RedisURL,
			RedisPassword: cfg.Push.RedisPassword,
			RedisDB:       cfg.Push.RedisDB,
		}, hub, logger)
		if err != nil {
			log.Fatalf("Failed to connect push bridge: %v", err)
		}
		pusher = bridge
		redisClient = bridge.Client()
	}

	dispatcher := notifications.NewDispatcher(notifStore, userStore, treeStore, pusher, metrics, logger)
	checker := grants.NewChecker(db, permissionCacheTTL)
	grantService := grants.NewService(grantStore, permStore, dispatcher, checker, metrics, logger)

	server := api.NewServer(api.Deps{
		Auth:           manager,
		Users:          userStore,
		Permissions:    permStore,
		Hierarchy:      treeStore,
		Grants:         grantStore,
		GrantService:   grantService,
		Notifications:  notifStore,
		Dispatcher:     dispatcher,
		Hub:            hub,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	apiSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthSrv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	// Bind up front so a taken port fails fast instead of after the
	// shutdown machinery is armed.
	apiListener, err := net.Listen("tcp", apiSrv.Addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", apiSrv.Addr, err)
	}
	healthListener, err := net.Listen("tcp", healthSrv.Addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", healthSrv.Addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, apiSrv, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error { return healthSrv.Shutdown(ctx) })
	if bridge != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return bridge.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { cancel(); return nil })

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Printf("Castellan API listening on %s", apiSrv.Addr)
		if err := apiSrv.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("Health/metrics listening on %s", healthSrv.Addr)
		if err := healthSrv.Serve(healthListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	g.Go(func() error { return shutdown.WaitForShutdown() })

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Shutdown complete")
}
