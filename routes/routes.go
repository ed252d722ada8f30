package routes

import (
	"log"
	"os"

	controller "leadpixel/controllers"
	"leadpixel/middleware"
	"leadpixel/store"
	"leadpixel/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"
)

// SetupTrackingRoutes wires the two ingestion paths: the public pixel
// endpoint and the identity provider webhook.
func SetupTrackingRoutes(app *fiber.App, db *gorm.DB, visitorStore *store.VisitorStore, enricher *worker.EnrichmentWorker) {
	trackController := controller.NewTrackController(db, visitorStore, enricher, log.New(os.Stdout, "TRACK: ", log.LstdFlags))
	webhookController := controller.NewWebhookController(db, visitorStore, log.New(os.Stdout, "WEBHOOK: ", log.LstdFlags))

	// Public tracking endpoints: CORS reflects the customer's domain and
	// per-IP rate limiting clamps runaway scripts.
	track := app.Group("/track", middleware.TrackRateLimiter())
	track.Post("/", trackController.HandleTrack)
	track.Get("/pixel.gif", trackController.HandlePixelGif)

	// Identity provider webhook: authenticated before any event processing.
	webhooks := app.Group("/webhooks", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhooks.Post("/identity", middleware.WebhookAuth(), webhookController.HandleIdentityWebhook)
}

// SetupAPIRoutes wires the owner-scoped read API.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB) {
	visitorController := controller.NewVisitorController(db, log.New(os.Stdout, "VISITOR: ", log.LstdFlags))
	credentialController := controller.NewCredentialController(db, log.New(os.Stdout, "CREDENTIAL: ", log.LstdFlags))

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	pixels := api.Group("/pixels")
	pixels.Get("/:id/visitors", visitorController.GetVisitors)
	pixels.Get("/:id/visitors/:visitorID", visitorController.GetVisitor)

	api.Put("/credentials/enrichment", credentialController.PutEnrichmentCredential)
}

func SetupRoutes(app *fiber.App, db *gorm.DB, visitorStore *store.VisitorStore, enricher *worker.EnrichmentWorker) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	SetupTrackingRoutes(app, db, visitorStore, enricher)
	SetupAPIRoutes(app, db)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
