package router

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/learnhub/payments-api/database"
	"github.com/learnhub/payments-api/handlers"
	auth_handlers "github.com/learnhub/payments-api/handlers/auth"
	transaction_handlers "github.com/learnhub/payments-api/handlers/transaction"
	"github.com/learnhub/payments-api/services"
	"github.com/learnhub/payments-api/services/storage"
	"github.com/learnhub/payments-api/utils/auth"
	"github.com/learnhub/payments-api/utils/cache"
	"github.com/learnhub/payments-api/utils/middleware"
	"gorm.io/gorm"
)

func SetupRoutes(app *fiber.App, store database.Storage) *services.ReconciliationService {
	// Get JWT secret from environment
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "learnhub-payments-api"
	}

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: jwtSecret,
		Expiry: 24 * time.Hour,
		Issuer: jwtIssuer,
	})

	// Get DB instance (type assert from interface)
	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	// Redis cache for the transaction stats snapshot
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Stats caching will be disabled.", err)
	}

	// Optional CSV export archival to Spaces
	var archiver transaction_handlers.ExportArchiver
	if bucket := os.Getenv("SPACES_BUCKET"); bucket != "" {
		spaces, err := storage.NewSpacesClient(storage.SpacesConfig{
			AccessKey: os.Getenv("SPACES_ACCESS_KEY"),
			SecretKey: os.Getenv("SPACES_SECRET_KEY"),
			Bucket:    bucket,
			Region:    os.Getenv("SPACES_REGION"),
			Endpoint:  os.Getenv("SPACES_ENDPOINT"),
		})
		if err != nil {
			log.Printf("Warning: Failed to init Spaces client: %v. Export archival disabled.", err)
		} else {
			archiver = spaces
		}
	}

	// Wire the reconciliation engine
	ledger := services.NewLedgerService(db, redisCache)
	splits := services.NewSplitService(db)
	enrollments := services.NewEnrollmentService(db)
	emails := services.NewEmailService()
	reconciliation := services.NewReconciliationService(db, ledger, splits, enrollments, enrollments, emails)

	authMiddleware := middleware.NewAuthMiddleware(jwtManager, db)
	authHandler := auth_handlers.NewAuthHandler(db, jwtManager)
	transactionHandler := transaction_handlers.NewTransactionHandler(reconciliation, archiver)

	// Apply security middleware
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: 100,             // 100 requests
		RateLimitWindow:   1 * time.Minute, // per minute
	})

	// Health check endpoint (public)
	app.Get("/ping", handlers.HandleCheckHealth(store))

	// API v1 group
	api := app.Group("/api/v1")

	// Auth routes (public)
	api.Post("/auth/login", authHandler.Login)

	// Gateway verification feed (service-to-service, token required)
	api.Post("/payments/gateway/verify", authMiddleware.Required(), transactionHandler.ApplyGatewayResult)

	// Admin transactions surface
	admin := api.Group("/admin", authMiddleware.Required(), middleware.RequireAdmin())
	admin.Get("/transactions", transactionHandler.ListTransactions)
	admin.Get("/transactions/export", transactionHandler.ExportCSV)
	admin.Get("/transactions/lookup", transactionHandler.LookupEnrollments)
	admin.Post("/transactions/manual", transactionHandler.RecordManualPayment)
	admin.Post("/transactions/split/configure", transactionHandler.ConfigureSplitPayment)
	admin.Post("/transactions/split/record", transactionHandler.RecordSplitPayment)
	admin.Get("/transactions/:id", transactionHandler.GetTransactionDetail)
	admin.Post("/transactions/:id/resolve", transactionHandler.ResolvePayment)
	admin.Get("/transactions/:id/receipt", transactionHandler.GetReceipt)
	admin.Post("/transactions/:id/receipt/send", transactionHandler.SendReceipt)

	return reconciliation
}
