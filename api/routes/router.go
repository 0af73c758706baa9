package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/examdesk/examdesk-backend/api/controllers"
	"github.com/examdesk/examdesk-backend/api/middleware"
	"github.com/examdesk/examdesk-backend/internal/adminops"
	"github.com/examdesk/examdesk-backend/internal/entitlements"
	"github.com/examdesk/examdesk-backend/internal/purchases"
	"github.com/examdesk/examdesk-backend/internal/subscriptions"
	"github.com/examdesk/examdesk-backend/pkg/catalog"
	"github.com/examdesk/examdesk-backend/pkg/config"
	"github.com/examdesk/examdesk-backend/pkg/db"
	"github.com/examdesk/examdesk-backend/pkg/enums"
	"github.com/examdesk/examdesk-backend/pkg/logger"
	"github.com/examdesk/examdesk-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	catalogClient *catalog.Client,
	subscriptionService subscriptions.Service,
	resolverService entitlements.Resolver,
	purchaseService purchases.Coordinator,
	adminService adminops.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, redisClient, catalogClient))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionList(subscriptionService, logg))
			r.Get("/{subscriptionID}", controllers.SubscriptionGet(subscriptionService, logg))
		})

		r.Route("/entitlements", func(r chi.Router) {
			r.Get("/", controllers.EntitlementList(resolverService, logg))
			r.Get("/resolve", controllers.EntitlementResolve(resolverService, logg))
		})

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/subscribe", controllers.Subscribe(purchaseService, logg))
			r.Get("/", controllers.PurchaseList(purchaseService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(string(enums.ActorRoleAdmin), logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", controllers.SubscriptionCreate(subscriptionService, logg))
			r.Patch("/{subscriptionID}", controllers.SubscriptionUpdate(subscriptionService, logg))
			r.Post("/{subscriptionID}/activate", controllers.SubscriptionActivate(subscriptionService, logg))
			r.Post("/{subscriptionID}/deactivate", controllers.SubscriptionDeactivate(subscriptionService, logg))
		})

		r.Route("/entitlements", func(r chi.Router) {
			r.Post("/{entitlementID}/extend", controllers.EntitlementExtend(adminService, logg))
			r.Post("/bulk-extend", controllers.EntitlementBulkExtend(adminService, logg))
		})

		r.Get("/papers/available", controllers.AvailablePapers(adminService, logg))
	})

	return r
}
