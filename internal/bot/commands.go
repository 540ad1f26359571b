package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"odpbot/internal/models"
	"odpbot/internal/session"
	"odpbot/internal/storage"
)

// handleCommand routes a command regardless of the chat's current step
func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message, sess)
	case "add":
		b.handleAdd(ctx, message, sess)
	case "record":
		b.handleRecord(ctx, message)
	case "odp":
		b.handleODPStart(ctx, message, sess)
	case "cancel":
		b.handleCancel(message, sess)
	case "help":
		b.sendText(message.Chat.ID, helpText)
	default:
		b.sendText(message.Chat.ID, msgUnknownCommand)
	}
}

// lookupCredentials loads the sender's credentials and tells the chat when
// they cannot be used. ok is false when the caller should stop.
func (b *Bot) lookupCredentials(ctx context.Context, message *tgbotapi.Message) (models.UserCredentials, bool) {
	identity := identityOf(message.From)
	creds, err := b.db.GetCredentials(ctx, identity)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.logger.Warn("Unregistered user", zap.String("identity", identity))
		b.sendText(message.Chat.ID, msgNotRegistered)
		return creds, false
	case err != nil:
		b.logger.Error("Failed to load credentials", zap.String("identity", identity), zap.Error(err))
		b.sendText(message.Chat.ID, msgStoreUnavailable)
		return creds, false
	}
	return creds, true
}

// handleStart greets a registered agent and leaves the chat idle
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	sess.Reset()

	creds, ok := b.lookupCredentials(ctx, message)
	if !ok {
		return
	}
	sess.Credentials = &creds
	b.sendText(message.Chat.ID, formatWelcome(creds))
}

// handleAdd restarts data collection at the business type step
func (b *Bot) handleAdd(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	sess.Reset()

	creds, ok := b.lookupCredentials(ctx, message)
	if !ok {
		return
	}
	if !creds.Permitted {
		b.logger.Warn("Agent without permission tried /add", zap.String("identity", creds.Identity))
		b.sendText(message.Chat.ID, msgNotPermitted)
		return
	}

	sess.Credentials = &creds
	sess.Data = models.UserData{
		Identity:    identityOf(message.From),
		DisplayName: creds.DisplayName,
	}
	if err := sess.Fire(ctx, session.EventAdd); err != nil {
		b.logger.Error("Failed to enter collection flow", zap.Error(err))
		b.sendText(message.Chat.ID, msgGenericFailure)
		return
	}
	b.reprompt(message.Chat.ID, sess)
}

// handleRecord lists the sender's latest submissions
func (b *Bot) handleRecord(ctx context.Context, message *tgbotapi.Message) {
	if _, ok := b.lookupCredentials(ctx, message); !ok {
		return
	}

	identity := identityOf(message.From)
	records, err := b.db.ListRecords(ctx, identity, b.opts.RecordLimit)
	if err != nil {
		b.logger.Error("Failed to list records", zap.String("identity", identity), zap.Error(err))
		b.sendText(message.Chat.ID, msgStoreUnavailable)
		return
	}
	b.sendText(message.Chat.ID, formatRecords(records, b.opts.Location))
}

// handleODPStart enters the nearest ODP lookup
func (b *Bot) handleODPStart(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	sess.Reset()
	if err := sess.Fire(ctx, session.EventODP); err != nil {
		b.logger.Error("Failed to enter ODP flow", zap.Error(err))
		b.sendText(message.Chat.ID, msgGenericFailure)
		return
	}
	b.reprompt(message.Chat.ID, sess)
}

// handleCancel discards the session from any step
func (b *Bot) handleCancel(message *tgbotapi.Message, sess *session.Session) {
	sess.End()
	b.sendWithMarkup(message.Chat.ID, msgCancelled, tgbotapi.NewRemoveKeyboard(true))
}
