package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/channelpass/backend/internal/config"
	"github.com/channelpass/backend/internal/http/handlers"
	"github.com/channelpass/backend/internal/middleware"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	listingHandler *handlers.ListingHandler,
	orderHandler *handlers.OrderHandler,
	subscriptionHandler *handlers.SubscriptionHandler,
	disputeHandler *handlers.DisputeHandler,
	escrowHandler *handlers.EscrowHandler,
	monitorHandler *handlers.MonitorHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/telegram", authHandler.TelegramAuth)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Listings browsing is public
	api.Get("/listings", listingHandler.ListListings)
	api.Get("/listings/:id", listingHandler.GetListing)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Listings (merchant)
	protected.Post("/listings", listingHandler.CreateListing)
	protected.Delete("/listings/:id", listingHandler.DeactivateListing)

	// Orders
	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListMyOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
	protected.Post("/orders/:id/cancel", orderHandler.CancelOrder)

	// Subscriptions
	protected.Get("/subscriptions", subscriptionHandler.ListMySubscriptions)
	protected.Get("/subscriptions/:id", subscriptionHandler.GetSubscription)

	// Disputes
	protected.Post("/disputes", disputeHandler.CreateDispute)
	protected.Get("/disputes/:id", disputeHandler.GetDispute)

	// Escrow (merchant views)
	protected.Get("/escrow/order/:orderId", escrowHandler.GetByOrder)
	protected.Get("/me/balances", escrowHandler.MyBalances)
	protected.Get("/me/balances/:currency", escrowHandler.MyBalance)
	protected.Get("/me/totals", escrowHandler.MyTotals)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Get("/disputes", disputeHandler.ListDisputes)
	admin.Post("/disputes/:id/status", disputeHandler.UpdateStatus)
	admin.Post("/disputes/:id/resolve", disputeHandler.ResolveDispute)
	admin.Get("/escrow/held-totals", escrowHandler.HeldTotals)
	admin.Get("/audit", escrowHandler.AuditTrail)
	admin.Get("/fee", escrowHandler.GetFee)
	admin.Put("/fee", escrowHandler.SetFee)
	admin.Get("/monitor/status", monitorHandler.Status)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
