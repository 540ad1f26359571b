package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"odpbot/internal/bot"
	"odpbot/internal/config"
	"odpbot/internal/geo"
	"odpbot/internal/httpx"
	"odpbot/internal/logging"
	"odpbot/internal/odp"
	"odpbot/internal/session"
	"odpbot/internal/storage"
	"odpbot/internal/storage/ch"
	"odpbot/internal/storage/sheets"
	"odpbot/internal/storage/stubs"
	"odpbot/internal/storage/supabase"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	db       storage.RecordStore
	blobs    storage.BlobStore
	sessions *session.Store
	bot      *bot.Bot
	server   *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting ODP bot",
		zap.String("store_backend", cfg.StoreBackend),
		zap.Bool("webhook_mode", cfg.WebhookMode),
	)

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initBlobs()

	// Initialize bot
	if err := app.initBot(); err != nil {
		return nil, err
	}

	// Initialize HTTP server
	app.initHTTPServer()

	return app, nil
}

// googleCredentials accepts either the service account JSON itself or a path to it
func googleCredentials(value string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(value), "{") {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("failed to read Google credentials: %w", err)
	}
	return data, nil
}

// initDatabase opens the record store selected by STORE_BACKEND
func (a *App) initDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.RequestTimeout)
	defer cancel()

	var db storage.RecordStore
	switch a.config.StoreBackend {
	case config.BackendMock:
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()

	case config.BackendClickHouse:
		c := a.config.ClickHouse
		tlsStatus := "without TLS"
		if c.UseTLS {
			tlsStatus = "with TLS"
		}
		a.logger.Info("Connecting to ClickHouse",
			zap.String("host", c.Host),
			zap.Int("port", c.Port),
			zap.String("database", c.Database),
			zap.String("user", c.User),
			zap.String("tls", tlsStatus),
		)
		clickhouseDB, err := ch.NewClickHouseDB(ctx, ch.Config{
			Host:     c.Host,
			Port:     c.Port,
			Database: c.Database,
			User:     c.User,
			Password: c.Password,
			UseTLS:   c.UseTLS,
			Timeout:  a.config.RequestTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		db = clickhouseDB

	default:
		creds, err := googleCredentials(a.config.GoogleCredsJSON)
		if err != nil {
			return err
		}
		a.logger.Info("Connecting to Google Sheets", zap.String("spreadsheet_id", a.config.SpreadsheetID))
		sheetsDB, err := sheets.NewSheetsDB(ctx, sheets.Config{
			SpreadsheetID:    a.config.SpreadsheetID,
			CredentialsJSON:  creds,
			DataSheet:        a.config.DataSheet,
			CredentialsSheet: a.config.CredentialsSheet,
			ODPSheet:         a.config.ODPSheet,
			Location:         a.config.Location(),
			Timeout:          a.config.RequestTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to Google Sheets: %w", err)
		}
		db = sheetsDB
	}

	// Initialize database schema and default data
	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initBlobs selects Supabase storage, or keeps photos in memory when running
// the mock backend without a Supabase project
func (a *App) initBlobs() {
	if a.config.SupabaseURL == "" {
		a.logger.Warn("SUPABASE_URL not set, photos are kept in memory")
		a.blobs = stubs.NewMockBlobs()
		return
	}
	a.blobs = supabase.NewStorage(
		a.config.SupabaseURL,
		a.config.SupabaseKey,
		a.config.SupabaseBucket,
		httpx.New(a.config.RequestTimeout),
		a.config.Location(),
		a.logger,
	)
}

// initBot initializes the Telegram bot
func (a *App) initBot() error {
	a.sessions = session.NewStore(a.config.SessionTimeout, a.logger)

	deps := bot.Deps{
		Store:      a.db,
		Blobs:      a.blobs,
		Locator:    odp.NewLocator(a.db, a.config.NearestCount, a.logger),
		Extractor:  geo.NewExtractor(httpx.New(a.config.LinkResolveTimeout), a.logger),
		Downloader: httpx.New(a.config.RequestTimeout),
		Sessions:   a.sessions,
	}
	opts := bot.Options{
		ChannelID:   a.config.ChannelID,
		RecordLimit: a.config.RecordLimit,
		Location:    a.config.Location(),
	}

	telegramBot, err := bot.NewBot(a.config.TelegramToken, deps, opts, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the HTTP server for health checks, metrics,
// the agent API and the webhook
func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	// Root endpoint
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		mode := "polling"
		if a.config.WebhookMode {
			mode = "webhook"
		}
		fmt.Fprintf(w, "ODP bot is running (mode: %s)", mode)
	})

	mux.Handle("/metrics", promhttp.Handler())

	bot.NewHTTPServer(a.bot).RegisterRoutes(mux)

	// Webhook endpoint (only used in webhook mode)
	mux.HandleFunc("/telegram-webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var update tgbotapi.Update
		if err := jsoniter.NewDecoder(r.Body).Decode(&update); err != nil {
			a.logger.Warn("Error decoding webhook update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Process update in background to respond quickly to Telegram
		a.bot.Dispatch(update)

		w.WriteHeader(http.StatusOK)
	})

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start HTTP server in background
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := a.sessions.Start(); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	// Start bot in appropriate mode
	if a.config.WebhookMode {
		a.logger.Info("Starting bot in WEBHOOK mode", zap.String("webhook_url", a.config.WebhookURL))
		if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
			return fmt.Errorf("failed to setup webhook: %w", err)
		}
		a.logger.Info("Webhook configured. Bot will receive updates via HTTP endpoint /telegram-webhook")
	} else {
		go func() {
			if err := a.bot.Start(); err != nil {
				a.logger.Error("Failed to start bot", zap.Error(err))
				sigChan <- syscall.SIGTERM
			}
		}()
	}

	// Wait for interrupt signal
	<-sigChan

	a.logger.Info("Shutting down...")
	return a.Shutdown()
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	defer a.logger.Sync()

	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// The server no longer accepts webhook calls, so every dispatched update
	// is already tracked
	a.bot.Stop()
	a.sessions.Stop()
	a.logger.Info("Sessions dropped", zap.Int("count", a.sessions.Len()))

	// Close database
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		return err
	}

	a.logger.Info("Shutdown complete")
	return nil
}
