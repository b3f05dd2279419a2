package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/events"
	"catalog-import-service/internal/handlers"
	"catalog-import-service/internal/importer"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/ws"
)

// @title Catalog Import API
// @version 1.0.0
// @description Bulk product catalog import service with validate-then-commit staging and live progress over WebSocket
// @termsOfService http://swagger.io/terms/

// @contact.name Catalog Import API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8093
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize Redis client
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("WARNING: Failed to parse Redis URL: %v (continuing without Redis)", err)
		redisOpts = &redis.Options{
			Addr: "localhost:6379",
		}
	}
	redisClient := redis.NewClient(redisOpts)

	// Test Redis connection
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("WARNING: Failed to connect to Redis: %v (caching will be disabled)", err)
	} else {
		log.Println("✓ Redis connected successfully")
	}
	cancelPing()

	// Initialize repository
	importRepo := repository.NewImportRepository(db, redisClient)

	// Initialize event publisher for audit trail only if NATS_URL is set
	var eventsPublisher *events.Publisher
	natsURL := os.Getenv("NATS_URL")
	if natsURL != "" {
		var err error
		eventsPublisher, err = events.NewPublisher(logger)
		if err != nil {
			log.Printf("WARNING: Failed to initialize events publisher: %v (continuing without event publishing)", err)
		} else {
			log.Println("✓ Events publisher initialized (NATS connected)")
		}
	} else {
		log.Println("NATS_URL not set, skipping event publishing initialization")
	}
	defer func() {
		if eventsPublisher != nil {
			eventsPublisher.Close()
		}
	}()

	// Initialize progress broadcast registry
	jwtSecret := cfg.JWTSecret
	registry := ws.NewRegistry(
		func(token string) (*ws.Principal, error) {
			return middleware.VerifyConnectionToken(token, jwtSecret)
		},
		logger,
		ws.WithHeartbeat(
			time.Duration(cfg.HeartbeatIntervalSec)*time.Second,
			time.Duration(cfg.HeartbeatTimeoutSec)*time.Second,
		),
	)
	registry.Start()
	defer registry.Stop()

	// Initialize import orchestrator (publisher may be nil if NATS not configured)
	var lifecycle importer.LifecyclePublisher
	if eventsPublisher != nil {
		lifecycle = eventsPublisher
	}
	orchestrator := importer.NewOrchestrator(importRepo, registry, lifecycle, logger, importer.Config{
		BatchSize: cfg.BatchSize,
		MaxRows:   cfg.MaxImportRows,
		MaxBytes:  cfg.MaxImportBytes,
	})

	// Initialize handlers
	importHandler := handlers.NewImportHandler(orchestrator, importRepo)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected API routes
	api := router.Group("/api/v1")

	// Authentication middleware
	// In development: use DevelopmentAuthMiddleware for local testing
	if cfg.Environment == "development" {
		api.Use(middleware.DevelopmentAuthMiddleware())
	} else {
		api.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	}
	api.Use(middleware.TenantMiddleware())

	imports := api.Group("/imports")
	{
		imports.GET("/template", importHandler.GetImportTemplate)

		imports.POST("", importHandler.StartImport)
		imports.GET("", importHandler.ListImports)
		imports.GET("/:id", importHandler.GetImport)
		imports.GET("/:id/rows", importHandler.GetImportRows)
		imports.GET("/:id/errors", importHandler.ExportFailedRows)
		imports.POST("/:id/commit", importHandler.CommitImport)
		imports.POST("/:id/cancel", importHandler.CancelImport)
	}

	// WebSocket progress endpoint. Auth happens inside the handler so the
	// token can arrive via query string from browser clients.
	router.GET("/ws/imports", registry.HandleConnection)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Catalog import service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	log.Println("Shutting down catalog-import-service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: Forced shutdown: %v", err)
	}
	log.Println("catalog-import-service stopped")
}
