package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"devbout/handlers"
	"devbout/ledger"
	"devbout/middleware"
	"devbout/models"
	"devbout/services"
	"devbout/settlement"
	"devbout/utils"
	"devbout/workers"

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

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // 20MB, cover images only
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

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
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Session-Token, X-Service-Token, X-Idempotency-Key",
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
		&models.User{},
		&models.Hackathon{},
		&models.Team{},
		&models.TeamMember{},
		&models.TeamJoinRequest{},
		&models.Submission{},
		&models.Contribution{},
		&models.TeamPrize{},
		&models.PrizeClaim{},
		&models.SettlementTransition{},
		&models.Badge{},
		&models.UserBadge{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	ledgerStore := ledger.NewStore(db)

	// --- Settlement backend selection ---
	var backend settlement.Backend
	switch os.Getenv("SETTLEMENT_BACKEND") {
	case "invoice":
		backend = settlement.NewInvoiceNetworkBackend()
		log.Println("💳 Using invoice-network settlement backend")
	case "direct", "":
		backend = settlement.NewDirectContractBackend()
		log.Println("⛓️  Using direct-contract settlement backend")
	default:
		log.Fatal("SETTLEMENT_BACKEND must be 'direct' or 'invoice'")
	}

	coordinator := settlement.NewCoordinator(ledgerStore, backend, settlement.DefaultConfig())

	badgeService := services.NewBadgeService(db)
	if err := badgeService.SeedBadges(); err != nil {
		log.Fatal("failed to seed badges:", err)
	}

	hackathonService := services.NewHackathonService(db, ledgerStore, badgeService)
	teamService := services.NewTeamService(db)
	submissionService := services.NewSubmissionService(db, badgeService)
	userService := services.NewUserService(db, badgeService)
	walletService := services.NewWalletService(db, coordinator, ledgerStore, badgeService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Reconciliation sweeper: resolves actions stuck in SUBMITTED ---
	sweeper := workers.NewReconciliationSweeper(ledgerStore, backend)
	go sweeper.Run(ctx, 30*time.Second)

	hackathonService.StartStatusScheduler()

	handlers.SetupHackathonRoutes(app, hackathonService, submissionService)
	handlers.SetupTeamRoutes(app, teamService)
	handlers.SetupUserRoutes(app, userService)
	handlers.SetupWalletRoutes(app, walletService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Reconciliation sweeper running (every 30s)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
