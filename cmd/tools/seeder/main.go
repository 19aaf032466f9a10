// Seeder provisions the sandbox merchant used by integration tests and local
// development. Credentials can be overridden through the environment.
package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-gateway/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	apiSecret := envOrDefault("SEED_MERCHANT_API_SECRET", "secret_test_xyz789")
	secretHash, err := argon2id.CreateHash(apiSecret, argon2id.DefaultParams)
	if err != nil {
		log.Fatalf("Failed to hash API secret: %v", err)
	}

	merchant := store.Merchant{
		ID:            uuid.MustParse(envOrDefault("SEED_MERCHANT_ID", "550e8400-e29b-41d4-a716-446655440000")),
		Name:          envOrDefault("SEED_MERCHANT_NAME", "Test Merchant"),
		Email:         envOrDefault("SEED_MERCHANT_EMAIL", "test@example.com"),
		APIKey:        envOrDefault("SEED_MERCHANT_API_KEY", "key_test_abc123"),
		APISecretHash: secretHash,
		WebhookSecret: envOrDefault("SEED_MERCHANT_WEBHOOK_SECRET", "whsec_test_abc123"),
		WebhookURL:    os.Getenv("SEED_MERCHANT_WEBHOOK_URL"),
	}

	id, err := store.New(pool).UpsertMerchant(ctx, merchant)
	if err != nil {
		log.Fatalf("Failed to seed merchant: %v", err)
	}
	log.Printf("Merchant %s seeded (api key %s)", id, merchant.APIKey)
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
