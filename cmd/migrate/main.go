package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/freshnest/fieldops/services"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Load .env file
	if err := godotenv.Load("../../.env"); err != nil {
		log.Println("No .env file found, checking current dir")
		if err := godotenv.Load(".env"); err != nil {
			log.Println("No .env file found")
		}
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	// Schema path may be overridden when running from the repo root
	schemaPath := os.Getenv("SCHEMA_PATH")
	if schemaPath == "" {
		schemaPath = "../../db/schema.sql"
	}

	content, err := os.ReadFile(schemaPath)
	if err != nil {
		cwd, _ := os.Getwd()
		log.Printf("Current working directory: %s", cwd)
		log.Fatalf("Failed to read schema file: %v", err)
	}

	log.Println("Applying schema...")
	_, err = db.Exec(string(content))
	if err != nil {
		log.Fatalf("Schema apply failed: %v", err)
	}

	log.Println("Schema applied successfully!")

	// Optional seed: store a webhook API key for one tenant. Only the
	// bcrypt hash is persisted.
	if tenantID := os.Getenv("SEED_TENANT_ID"); tenantID != "" {
		apiKey := os.Getenv("SEED_API_KEY")
		if apiKey == "" {
			log.Fatal("SEED_API_KEY is required when SEED_TENANT_ID is set")
		}

		hash, err := services.NewAPIKeyService(db).HashKey(apiKey)
		if err != nil {
			log.Fatalf("Failed to hash seed API key: %v", err)
		}

		_, err = db.Exec(`
			INSERT INTO tenant_api_keys (id, tenant_id, key_hash, is_active)
			VALUES ($1, $2, $3, true)
		`, uuid.NewString(), tenantID, hash)
		if err != nil {
			log.Fatalf("Failed to seed API key: %v", err)
		}

		log.Printf("Seeded API key for tenant %s", tenantID)
	}
}
