package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"go.uber.org/zap"

	"odpbot/internal/app"
	"odpbot/internal/models"
	"odpbot/internal/storage/ch"
)

// sampleODPs are a few ODPs around Jakarta and Bandung for local testing
var sampleODPs = []models.ODPEntry{
	{STO: "GMR", Name: "ODP-GMR-FA/01", Latitude: -6.1754, Longitude: 106.8272, Available: "4", HasCoordinates: true},
	{STO: "GMR", Name: "ODP-GMR-FA/07", Latitude: -6.1702, Longitude: 106.8311, Available: "0", HasCoordinates: true},
	{STO: "KBB", Name: "ODP-KBB-FB/12", Latitude: -6.2088, Longitude: 106.8170, Available: "2", HasCoordinates: true},
	{STO: "KBB", Name: "ODP-KBB-FB/15", Latitude: -6.2150, Longitude: 106.8120, Available: "N/A", HasCoordinates: true},
	{STO: "BDG", Name: "ODP-BDG-FC/03", Latitude: -6.9147, Longitude: 107.6098, Available: "7", HasCoordinates: true},
	{STO: "BDG", Name: "ODP-BDG-FC/09", Available: "1"},
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting ClickHouse testcontainer...")

	// Start ClickHouse container
	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("devpassword"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	// Ensure container cleanup on exit
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	// Get connection details
	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}

	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	cfg := ch.Config{
		Host:     host,
		Port:     port.Int(),
		Database: "default",
		User:     "default",
		Password: "devpassword",
	}
	if err := ch.Migrate(ctx, cfg); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := seed(ctx, cfg); err != nil {
		log.Fatalf("Failed to seed ClickHouse: %v", err)
	}

	// Set environment variables for the application
	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", "devpassword")
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("STORE_BACKEND", "clickhouse")
	os.Setenv("WEBHOOK_MODE", "false")

	// Set PORT for HTTP server if not already set
	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}

	// Ensure TELEGRAM_BOT_TOKEN, Supabase and the channel are set
	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN not set. Please set it in your .env file or environment.")
		log.Println("   The bot will fail to start without a valid token.")
	}
	if os.Getenv("SUPABASE_URL") == "" || os.Getenv("SUPABASE_KEY") == "" {
		log.Println("⚠️  SUPABASE_URL / SUPABASE_KEY not set. Photo uploads need a Supabase project.")
	}
	if os.Getenv("CHANNEL_ID") == "" {
		log.Println("⚠️  CHANNEL_ID not set. The ClickHouse backend requires a notification channel.")
	}

	log.Println("Starting application with ClickHouse backend...")
	fmt.Println()

	// Create and initialize application
	application, err := app.New()
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}

// seed registers the developer (DEV_AGENT_ID, a Telegram user ID) and loads
// the sample ODPs
func seed(ctx context.Context, cfg ch.Config) error {
	db, err := ch.NewClickHouseDB(ctx, cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer db.Close()

	if id := os.Getenv("DEV_AGENT_ID"); id != "" {
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			return fmt.Errorf("DEV_AGENT_ID must be a Telegram user ID: %w", err)
		}
		if err := db.AddCredentials(ctx, models.UserCredentials{
			Identity:    id,
			DisplayName: "Dev Agent",
			STO:         "GMR",
			Permitted:   true,
			Witel:       "Jakarta Pusat",
		}); err != nil {
			return err
		}
		log.Printf("Registered agent %s", id)
	} else {
		log.Println("⚠️  DEV_AGENT_ID not set. No agent is registered, /add will be refused.")
	}

	if err := db.ReplaceODPEntries(ctx, sampleODPs); err != nil {
		return err
	}
	log.Printf("Loaded %d sample ODPs", len(sampleODPs))
	return nil
}
