package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	xrate "golang.org/x/time/rate"

	"vashsender/internal/api"
	"vashsender/internal/billing"
	"vashsender/internal/config"
	"vashsender/internal/db"
	"vashsender/internal/dnscheck"
	"vashsender/internal/docs"
	"vashsender/internal/events"
	"vashsender/internal/mailer"
	"vashsender/internal/models"
	"vashsender/internal/services"
	"vashsender/internal/storage"
	"vashsender/internal/tasks"
	"vashsender/internal/tasks/rate"
	"vashsender/internal/utils"
	"vashsender/internal/utils/crypto"
	"vashsender/internal/utils/logger"
)

// 🚀 Main function
func main() {
	appLog := logger.New("vashsender")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		appLog.Info("No .env file found, skipping environment variable loading")
	} else {
		appLog.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize keys
	if err := crypto.InitializeKeys(cfg.Crypto.EncryptionKey); err != nil {
		log.Fatalf("Failed to initialize keys: %v", err)
	}

	// Connect to database
	gdb, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLog.Error("Failed to close database connection", err)
		}
	}()
	if err := models.SeedPlans(gdb); err != nil {
		log.Fatalf("Failed to seed plans: %v", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Start monitoring database connection pool
	db.MonitorConnectionPool(rootCtx, gdb, 10*time.Minute)

	store, err := storage.New(rootCtx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	redisClient, err := utils.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	taskClient := tasks.NewTaskClient(cfg.Redis)
	defer taskClient.Close()

	// Services
	smtpMailer := mailer.NewSMTPMailer(logger.New("MAILER"))
	provider := billing.NewProvider(cfg.Billing)
	bill := billing.NewService(gdb, provider)
	signer := utils.NewTrackingSigner(cfg.Tracking.Secret, cfg.Tracking.BaseURL)

	relayLimiter := rate.NewQueueRateLimiter(redisClient.Client, rate.QueueConfig{
		Name:      "smtp",
		RateLimit: rate.RateLimit{Window: time.Second, MaxJobs: cfg.Mail.MaxSendRate},
	})
	campaigns := services.NewCampaignService(gdb, services.CampaignDeps{
		Queue:    taskClient,
		Sender:   smtpMailer,
		Limiter:  relayLimiter,
		Pacer:    mailer.NewDomainLimiter(xrate.Limit(5)),
		Renderer: services.NewRenderer(signer),
		Billing:  bill,
	}, cfg.Campaign, cfg.Mail)
	imports := services.NewImportService(gdb, store, bill)
	domains := services.NewDomainService(gdb, dnscheck.NewChecker(nil), bill, taskClient,
		services.NewSystemMailer(smtpMailer, cfg.Mail), cfg.Mail)

	services.RegisterEventHandlers(events.Default(), taskClient)

	// Initialize task server
	taskServer := tasks.NewServer(cfg.Redis, cfg.Worker,
		tasks.NewTaskHandler(campaigns, imports, domains, appLog.Zap().Named("tasks")), appLog)
	go func() {
		if err := taskServer.Start(); err != nil {
			appLog.Error("Task server error", err)
		}
	}()

	// Initialize task scheduler
	taskScheduler := tasks.NewScheduler(cfg.Redis, appLog)
	go func() {
		if err := taskScheduler.Start(); err != nil {
			appLog.Error("Task scheduler error", err)
		}
	}()

	// Initialize API server
	apiServer := api.NewServer(cfg, gdb, api.Deps{
		Auth:      services.NewAuthService(gdb, cfg.JWT),
		Campaigns: campaigns,
		Tracking:  services.NewTrackingService(gdb, signer),
		Templates: services.NewTemplateService(gdb),
		Lists:     services.NewContactListService(gdb),
		Contacts:  services.NewContactService(gdb, bill),
		Imports:   imports,
		Domains:   domains,
		SMTP:      services.NewSMTPConfigService(gdb, bill),
		Billing:   bill,
		Provider:  provider,
		Prober:    smtpMailer,
		Redis:     redisClient.Client,
	})

	// Swagger documentation
	docs.SwaggerInfo.Title = cfg.App.Name + " API"

	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("API server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Create a deadline for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		appLog.Error("Failed to shutdown API server", err)
	}
	taskScheduler.Stop()
	taskServer.Shutdown()
	rootCancel()

	appLog.Info("Servers shutdown gracefully")
}
