package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/freshnest/fieldops/internal/config"
	"github.com/freshnest/fieldops/router"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
)

func main() {
	log.Println("Starting dispatch API server...")

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
	}

	log.Println("  Connected to database successfully")

	// Redis backs the idempotency guard's reservation layer. The server
	// still runs without it; the guard falls back to the ledger lookup.
	var redisClient *redis.Client
	if config.App.RedisURL != "" {
		opts, err := redis.ParseURL(config.App.RedisURL)
		if err != nil {
			log.Printf("Invalid REDIS_URL, continuing without Redis: %v", err)
		} else {
			redisClient = redis.NewClient(opts)
			log.Println("  Redis guard layer enabled")
		}
	} else {
		log.Println("  REDIS_URL not set, guard runs on the ledger alone")
	}

	r := router.NewGinRouter(pg, redisClient)

	addr := ":" + config.App.Port
	log.Printf("Listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
