package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// NewBot creates a new Telegram bot
func NewBot(token string, deps Deps, opts Options, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	return New(api, token, deps, opts, logger), nil
}

// New wires a bot around an already constructed API client
func New(api TelegramAPI, token string, deps Deps, opts Options, logger *zap.Logger) *Bot {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.RecordLimit <= 0 {
		opts.RecordLimit = 10
	}
	return &Bot{
		api:       api,
		token:     token,
		db:        deps.Store,
		blobs:     deps.Blobs,
		locator:   deps.Locator,
		extractor: deps.Extractor,
		download:  deps.Downloader,
		sessions:  deps.Sessions,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}
