package main

import (
	"context"
	"log"
	"os"

	"leadpixel/config"
	"leadpixel/middleware"
	"leadpixel/routes"
	"leadpixel/store"
	"leadpixel/utils"
	"leadpixel/worker"

	"github.com/gofiber/fiber/v2"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "LEADPIXEL: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if err := utils.InitSentry(config.AppConfig.SentryDSN, config.AppConfig.Environment); err != nil {
		logger.Printf("Sentry init failed, continuing without it: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Shared visitor aggregate store, used by both ingestion paths
	visitorStore := store.NewVisitorStore(config.DB, log.New(os.Stdout, "STORE: ", log.LstdFlags))

	// Initialize and start the background enrichment worker
	enrichmentClient := utils.NewEnrichmentClient(
		config.DB,
		config.AppConfig.EnrichmentAPIURL,
		config.AppConfig.EnrichmentTimeout,
		log.New(os.Stdout, "ENRICH: ", log.LstdFlags),
	)
	enrichmentWorker := worker.NewEnrichmentWorker(
		config.DB,
		visitorStore,
		enrichmentClient,
		log.New(os.Stdout, "ENRICH: ", log.LstdFlags),
		config.AppConfig.EnrichmentWorkers,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go enrichmentWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, visitorStore, enrichmentWorker)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
