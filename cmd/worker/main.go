package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/freshnest/fieldops/internal/config"
	"github.com/freshnest/fieldops/services"
	"github.com/freshnest/fieldops/workers"
	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting workers...")

	// Load Config
	configPath := os.Getenv("FIELDOPS_CONFIG_PATH")

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	// Test database connection
	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	} else {
		log.Println("  Set database timezone to UTC")
	}

	log.Println("  Connected to database successfully")

	// Initialize services. The workers run without Redis; the ledger's
	// reservation layer degrades to the SQL lookup alone.
	jobService := services.NewJobService(pg)
	ledgerService := services.NewLedgerService(pg, nil)
	tokenService := services.NewActionTokenService(config.App.ActionTokenSecret, config.App.OfferTimeout())
	pushService := services.NewPushService(
		config.App.FirebaseCredentialsFile,
		config.App.PushGateway.URL,
		config.App.PushGateway.APIToken,
		config.App.PushGateway.InstanceID,
	)
	smsService := services.NewSMSService(
		config.App.SMSGateway.URL,
		config.App.SMSGateway.APIToken,
		config.App.SMSGateway.FromNumber,
	)
	slackService := services.NewSlackService(config.App.SlackBotToken)
	escalationService := services.NewEscalationService(pg, jobService, ledgerService, slackService, smsService)
	cascadeService := services.NewCascadeService(pg, jobService, ledgerService, pushService,
		smsService, tokenService, escalationService, config.App.OfferTimeout())
	optimizer := services.NewHTTPRouteOptimizer(config.App.RouteOptimizer.URL, config.App.RouteOptimizer.APIToken)
	routeService := services.NewRoutePlanService(pg, jobService, ledgerService, pushService, escalationService, optimizer)

	// Initialize workers
	timeoutWorker := workers.NewTimeoutWorker(pg, cascadeService,
		config.App.OfferTimeout(), config.App.SweepInterval())
	scheduleWorker := workers.NewScheduleWorker(pg, pushService, routeService,
		config.App.Dispatch.ManifestCron, config.App.Dispatch.RecomputeCron)

	ctx, cancel := context.WithCancel(context.Background())

	// Start workers in separate goroutines
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("Starting offer timeout worker...")
		timeoutWorker.Start(ctx)
	}()

	if err := scheduleWorker.Start(ctx); err != nil {
		log.Fatalf("Failed to start schedule worker: %v", err)
	}

	// Wait for interrupt signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("Workers started successfully. Press Ctrl+C to stop.")
	<-c

	log.Println("Shutting down workers...")
	cancel()
	wg.Wait()
}
