package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"odpbot/internal/geo"
	"odpbot/internal/httpx"
	"odpbot/internal/odp"
	"odpbot/internal/session"
	"odpbot/internal/storage"
)

// TelegramAPI is the part of tgbotapi.BotAPI the bot talks to
type TelegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetWebhookInfo() (tgbotapi.WebhookInfo, error)
}

// Deps are the collaborators the handlers call
type Deps struct {
	Store      storage.RecordStore
	Blobs      storage.BlobStore
	Locator    *odp.Locator
	Extractor  *geo.Extractor
	Downloader *httpx.Client
	Sessions   *session.Store
}

// Options tune the bot's behaviour
type Options struct {
	// ChannelID receives a notification for every saved record; 0 disables it
	ChannelID   int64
	RecordLimit int
	Location    *time.Location
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api       TelegramAPI
	token     string
	db        storage.RecordStore
	blobs     storage.BlobStore
	locator   *odp.Locator
	extractor *geo.Extractor
	download  *httpx.Client
	sessions  *session.Store
	opts      Options
	now       func() time.Time
	logger    *zap.Logger

	// inflight tracks update goroutines started by Dispatch
	inflight sync.WaitGroup
}

// ValidationError reports user input that cannot be accepted as is
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", strings.Join(e.Fields, ", "), e.Reason)
}
