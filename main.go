package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"match-escrow-system/handlers"
	"match-escrow-system/middleware"
	"match-escrow-system/models"
	"match-escrow-system/services"
	"match-escrow-system/utils"
	"match-escrow-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	// Load allowed origins from environment variable
	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Player-Address, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Match{},
		&models.MatchPlayer{},
		&models.MatchFeeShare{},
		&models.MatchEvent{},
		&models.FeeRecipient{},
		&models.PendingBalance{},
		&models.EngineSetting{},
		&models.SettlementRecord{},
		&models.EscrowTransfer{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// --- Authorized identities (explicit, checked per-call in the engine) ---
	controllerAddress := os.Getenv("CONTROLLER_ADDRESS")
	if controllerAddress == "" {
		log.Fatal("CONTROLLER_ADDRESS environment variable not set")
	}
	ownerAddress := os.Getenv("OWNER_ADDRESS")
	if ownerAddress == "" {
		log.Fatal("OWNER_ADDRESS environment variable not set")
	}
	// --- END CONFIG ---

	treasury := services.NewHTTPTreasuryClient()
	engine := services.NewEscrowEngine(db, treasury, controllerAddress, ownerAddress)
	escrowService := services.NewEscrowService(engine)
	eventService := services.NewEventService(db)

	// --- Scoreboard callback (best-effort, never blocks settlement) ---
	scoreboardURL := os.Getenv("SCOREBOARD_SERVICE_URL")
	if scoreboardURL == "" {
		log.Fatal("SCOREBOARD_SERVICE_URL environment variable not set")
	}
	escrowServiceToken := os.Getenv("ESCROW_SERVICE_TOKEN")
	if escrowServiceToken == "" {
		log.Fatal("ESCROW_SERVICE_TOKEN environment variable not set")
	}

	resultRecorder := workers.NewResultRecorderWorker(db, scoreboardURL, "/api/v1/internal/match-results", escrowServiceToken)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resultRecorder.Start(ctx)
	engine.StartArchiveScheduler()

	// ✅ Setup routes — Gateway auth enforced globally, caller identity per-route
	handlers.SetupMatchRoutes(app, escrowService, eventService)
	handlers.SetupFeeRoutes(app, escrowService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Result recorder worker running")
	log.Println("✅ Settlement archiver scheduled")
	log.Printf("✅ Controller: %s | Owner: %s", controllerAddress, ownerAddress)
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
