package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/examdesk/examdesk-backend/api/routes"
	"github.com/examdesk/examdesk-backend/internal/adminops"
	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/internal/purchases"
	"github.com/examdesk/examdesk-backend/internal/subscriptions"
	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/config"
	"github.com/examdesk/examdesk-backend/pkg/db"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	"github.com/examdesk/examdesk-backend/pkg/migrate"
	"github.com/examdesk/examdesk-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	catalogClient, err := catalog.NewClient(cfg.Catalog.BaseURL, catalog.WithTimeout(cfg.Catalog.Timeout))
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog client", err)
		os.Exit(1)
	}

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	entitlementRepo := entitlements.NewRepository(dbClient.DB())
	purchaseRepo := purchases.NewRepository(dbClient.DB())

	subscriptionService, err := subscriptions.NewService(subscriptionRepo, entitlementRepo, catalogClient, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	resolverService, err := entitlements.NewResolver(entitlementRepo, subscriptionRepo, catalogClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement resolver", err)
		os.Exit(1)
	}

	purchaseService, err := purchases.NewCoordinator(purchaseRepo, entitlementRepo, subscriptionRepo, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create purchase coordinator", err)
		os.Exit(1)
	}

	adminService, err := adminops.NewService(entitlementRepo, subscriptionRepo, catalogClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create admin service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, catalogClient, subscriptionService, resolverService, purchaseService, adminService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
