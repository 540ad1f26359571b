package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"odpbot/internal/models"
	"odpbot/internal/session"
)

// Callback data prefixes, "<prefix>:<value>"
const (
	cbBusinessType = "biz"
	cbPackage      = "pkg"
	cbConfirm      = "confirm"

	confirmYes   = "yes"
	confirmNo    = "no"
	confirmRetry = "retry"
)

// sendMessage sends msg and logs a failure; replies are best effort
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Int64("chat_id", msg.ChatID),
			zap.Error(err),
		)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) sendWithMarkup(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	b.sendMessage(msg)
}

func (b *Bot) sendHTML(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = markup
	b.sendMessage(msg)
}

// optionsKeyboard lays options out two per row with "<prefix>:<index>" data
func optionsKeyboard(prefix string, options []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var currentRow []tgbotapi.InlineKeyboardButton
	for i, option := range options {
		currentRow = append(currentRow, tgbotapi.NewInlineKeyboardButtonData(option, fmt.Sprintf("%s:%d", prefix, i)))

		if len(currentRow) == 2 || i == len(options)-1 {
			rows = append(rows, currentRow)
			currentRow = nil
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Simpan", cbConfirm+":"+confirmYes),
			tgbotapi.NewInlineKeyboardButtonData("❌ Batal", cbConfirm+":"+confirmNo),
		),
	)
}

func retryKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔁 Coba Lagi", cbConfirm+":"+confirmRetry),
			tgbotapi.NewInlineKeyboardButtonData("❌ Batal", cbConfirm+":"+confirmNo),
		),
	)
}

func locationKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewOneTimeReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonLocation("📍 Bagikan Lokasi")),
	)
	kb.ResizeKeyboard = true
	return kb
}

// reprompt repeats the question of the current step without changing state
func (b *Bot) reprompt(chatID int64, sess *session.Session) {
	switch sess.State() {
	case session.StateAwaitingBusinessType:
		b.sendWithMarkup(chatID, msgAskBusinessType, optionsKeyboard(cbBusinessType, models.BusinessTypes))
	case session.StateAwaitingAddress:
		b.sendText(chatID, msgAskAddress)
	case session.StateAwaitingLocation:
		b.sendWithMarkup(chatID, msgAskLocation, locationKeyboard())
	case session.StateAwaitingPackage:
		b.sendWithMarkup(chatID, msgAskPackage, optionsKeyboard(cbPackage, models.Packages))
	case session.StateAwaitingPhoto:
		b.sendText(chatID, msgAskPhoto)
	case session.StateAwaitingConfirmation:
		b.sendWithMarkup(chatID, formatConfirmation(&sess.Data), confirmKeyboard())
	case session.StateAwaitingODPLocation:
		b.sendWithMarkup(chatID, msgAskODPLocation, locationKeyboard())
	default:
		if sess.RetryPending {
			b.sendWithMarkup(chatID, msgRetryPending, retryKeyboard())
			return
		}
		b.sendText(chatID, msgIdleHint)
	}
}
