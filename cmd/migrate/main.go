package main

import (
	"context"
	"log"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"odpbot/internal/config"
	"odpbot/internal/storage/ch"
	"odpbot/migrations"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using existing environment variables")
	}

	cfg, err := config.LoadClickHouse()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	chCfg := ch.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		UseTLS:   cfg.UseTLS,
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx := context.Background()
	if command == "up" {
		if err := ch.Migrate(ctx, chCfg); err != nil {
			log.Fatalf("%v", err)
		}
		log.Println("Migrations completed successfully")
		return
	}

	db := clickhouse.OpenDB(chCfg.Options())
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	log.Printf("Running migrations: %s", command)
	switch command {
	case "down":
		if err := goose.DownContext(ctx, db, "."); err != nil {
			log.Fatalf("Failed to rollback migration: %v", err)
		}
		log.Println("Rollback completed successfully")
	case "status":
		if err := goose.StatusContext(ctx, db, "."); err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
	case "version":
		version, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		log.Printf("Current migration version: %d", version)
	default:
		log.Fatalf("Unknown command: %s. Available commands: up, down, status, version", command)
	}
}
