package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fleetview/fleetview/internal/pkg/clientpool"
	"github.com/fleetview/fleetview/internal/pkg/config"
	"github.com/fleetview/fleetview/internal/pkg/credentials"
	"github.com/fleetview/fleetview/internal/pkg/descriptors"
	"github.com/fleetview/fleetview/internal/pkg/mongo"
	"github.com/fleetview/fleetview/internal/pkg/registry"
	"github.com/fleetview/fleetview/internal/pkg/router"
	"github.com/fleetview/fleetview/internal/pkg/scanner"
	"github.com/fleetview/fleetview/internal/pkg/services"
	"github.com/fleetview/fleetview/internal/pkg/status"
	"github.com/fleetview/fleetview/internal/pkg/store"
)

func main() {
	// Initialize slog with a TextHandler (human-readable logs)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("Starting fleetview")

	configPath := os.Getenv("FLEETVIEW_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	appConfig, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return
	}

	ctx := context.Background()

	backend, err := newBackend(ctx, appConfig, logger)
	if err != nil {
		logger.Error("Failed to open persistence backend", "error", err)
		return
	}
	defer backend.Close(ctx)

	persister := store.NewPersister(backend)
	descStore := descriptors.NewStore(persister, logger)
	reg := registry.New(persister, logger)

	// Rehydrate from durable state
	state, err := backend.Load(ctx)
	if err != nil {
		logger.Error("Failed to load durable state", "error", err)
		return
	}
	descStore.Restore(state.Clusters)
	reg.Restore(state.Services)
	logger.Info("State restored", "clusters", len(state.Clusters), "services", len(state.Services))

	credProvider := credentials.NewAWSProvider(appConfig.AWS.Region, appConfig.AWS.Profile, logger)
	injector := credentials.NewInjector(appConfig.AWS.Region, logger)
	pool := clientpool.New(descStore, credProvider, injector, nil, logger)

	sc := scanner.New(pool, logger)
	agg := status.New(reg, pool, status.Options{
		PerClusterLimit: appConfig.Aggregation.PerClusterLimit,
		EntryTimeout:    time.Duration(appConfig.Aggregation.EntryTimeout),
		MaxEvents:       appConfig.Aggregation.MaxEvents,
		CacheTTL:        time.Duration(appConfig.Aggregation.CacheTTL),
	}, logger)

	clusterService := services.NewClusterService(descStore, reg, pool, sc, agg, logger)
	serviceMapService := services.NewServiceMapService(reg, descStore, logger)
	statusService := services.NewStatusService(agg, time.Duration(appConfig.Aggregation.CacheTTL), logger)

	app := fiber.New()
	router.SetupRoutes(app, clusterService, serviceMapService, statusService)

	logger.Info("Starting server", "address", appConfig.ListenAddress)
	if err := app.Listen(appConfig.ListenAddress); err != nil {
		logger.Error("Failed to start server", "error", err)
	}
}

// newBackend picks MongoDB when a URI is configured, otherwise the
// atomic-replace file store.
func newBackend(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Mongo.URI != "" {
		logger.Info("Using MongoDB persistence", "database", cfg.Mongo.Database)
		return mongo.NewStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	}

	logger.Info("Using file persistence", "path", cfg.StateFile)
	return store.NewFileStore(cfg.StateFile)
}
