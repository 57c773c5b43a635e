// README: Entry point; loads config, wires services, runs the HTTP server and notification workers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"fleetwatch/internal/config"
	httptransport "fleetwatch/internal/http"
	"fleetwatch/internal/infra"
	"fleetwatch/internal/logging"
	"fleetwatch/internal/maps"
	"fleetwatch/internal/modules/dispatch"
	"fleetwatch/internal/modules/distress"
	"fleetwatch/internal/modules/location"
	"fleetwatch/internal/modules/zone"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fleetwatch-api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewStructuredLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zones, err := zone.Load(cfg.Zones.File)
	if err != nil {
		return err
	}
	if _, ok := zones.Lookup(cfg.Notify.FallbackZone); !ok && cfg.Notify.FallbackZone != zone.Unknown {
		return fmt.Errorf("fallback dispatch zone %q is not in the zone registry", cfg.Notify.FallbackZone)
	}
	logging.LogOperation(logger, "zones_loaded", slog.Int("count", zones.Len()), slog.String("file", cfg.Zones.File))

	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return err
	}
	msgClient, err := infra.NewMessaging(ctx, app)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	if cfg.DB.MigrationsDir != "" {
		if err := infra.ApplyMigrations(ctx, dbPool, cfg.DB.MigrationsDir); err != nil {
			return err
		}
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	var geocoder location.Geocoder
	if cfg.Maps.APIKey != "" {
		gs, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		geocoder = gs
	}

	locationSvc := location.NewService(location.NewStore(dbPool, redisClient), zones, geocoder)

	directory := dispatch.NewDirectory(dbPool)
	notifier := dispatch.NewNotifier(directory, dispatch.NewFCMGateway(msgClient, logger), locationSvc, dispatch.NotifierOptions{
		Workers:       cfg.Notify.Workers,
		QueueSize:     cfg.Notify.QueueSize,
		Timeout:       cfg.Notify.Timeout,
		MaxAttempts:   cfg.Notify.MaxAttempts,
		Backoff:       cfg.Notify.Backoff,
		FallbackZone:  cfg.Notify.FallbackZone,
		PublicBaseURL: cfg.HTTP.PublicBaseURL,
	}, logger)

	distressSvc := distress.NewService(distress.ServiceDeps{
		Store:    distress.NewStore(dbPool),
		Vehicles: locationSvc,
		Zones:    zones,
		Events:   notifier,
		Location: cfg.Location,
		Logger:   logger,
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Zones:         zones,
		Location:      locationSvc,
		Distress:      distressSvc,
		Directory:     directory,
		Verifier:      verifier,
		Logger:        logger,
		RatePerSecond: float64(cfg.HTTP.RatePerSecond),
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return notifier.Run(gctx) })
	return g.Wait()
}
