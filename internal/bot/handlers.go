package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"odpbot/internal/metrics"
	"odpbot/internal/session"
)

// inputKind is the category of a non-command message
type inputKind string

const (
	inputText     inputKind = "text"
	inputLocation inputKind = "location"
	inputPhoto    inputKind = "photo"
	inputButton   inputKind = "button"
	inputCommand  inputKind = "command"
	inputOther    inputKind = "other"
)

func classify(message *tgbotapi.Message) inputKind {
	switch {
	case message.IsCommand():
		return inputCommand
	case message.Location != nil:
		return inputLocation
	case len(message.Photo) > 0:
		return inputPhoto
	case strings.TrimSpace(message.Text) != "":
		return inputText
	default:
		return inputOther
	}
}

// HandleUpdate processes a single update from polling or webhook
func (b *Bot) HandleUpdate(update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(update.Message)
	case update.CallbackQuery != nil:
		b.handleCallbackQuery(update.CallbackQuery)
	}
}

// recoverPanic must be deferred inside a session.Store.Do callback. The ODP
// flow has nothing worth keeping, so it is reset; a collection flow keeps its
// state so the agent can carry on.
func (b *Bot) recoverPanic(chatID int64, sess *session.Session) {
	r := recover()
	if r == nil {
		return
	}
	metrics.HandlerPanics.Inc()
	b.logger.Error("Recovered from panic in handler",
		zap.Int64("chat_id", chatID),
		zap.String("state", string(sess.State())),
		zap.Any("panic", r),
	)
	if sess.InODPFlow() {
		sess.Reset()
	}
	b.sendText(chatID, msgGenericFailure)
}

func identityOf(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	return strconv.FormatInt(user.ID, 10)
}

// handleMessage processes a single message; commands take priority over
// whatever the chat is in the middle of
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if message.Chat == nil {
		return
	}
	chatID := message.Chat.ID
	kind := classify(message)
	metrics.UpdatesReceived.WithLabelValues(string(kind)).Inc()

	b.sessions.Do(chatID, func(sess *session.Session) {
		defer b.recoverPanic(chatID, sess)
		ctx := context.Background()

		if kind == inputCommand {
			b.handleCommand(ctx, message, sess)
			return
		}
		b.handleConversation(ctx, message, kind, sess)
	})
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.Message.Chat == nil {
		return
	}
	chatID := query.Message.Chat.ID
	metrics.UpdatesReceived.WithLabelValues(string(inputButton)).Inc()

	// Answer the callback query to remove loading state
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Debug("Failed to answer callback", zap.Error(err))
	}

	b.sessions.Do(chatID, func(sess *session.Session) {
		defer b.recoverPanic(chatID, sess)
		ctx := context.Background()

		prefix, value, _ := strings.Cut(query.Data, ":")
		switch prefix {
		case cbBusinessType:
			b.handleBusinessTypeCallback(ctx, chatID, value, sess)
		case cbPackage:
			b.handlePackageCallback(ctx, chatID, value, sess)
		case cbConfirm:
			b.handleConfirmCallback(ctx, chatID, identityOf(query.From), value, sess)
		default:
			b.logger.Warn("Unknown callback data",
				zap.Int64("chat_id", chatID),
				zap.String("callback_data", query.Data),
			)
			b.reprompt(chatID, sess)
		}
	})
}
