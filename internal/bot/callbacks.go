package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"odpbot/internal/metrics"
	"odpbot/internal/models"
	"odpbot/internal/session"
)

// optionIndex parses the index of a keyboard option
func optionIndex(value string, options []string) (int, error) {
	i, err := strconv.Atoi(value)
	if err != nil || i < 0 || i >= len(options) {
		return 0, &ValidationError{Reason: "unknown option " + strconv.Quote(value)}
	}
	return i, nil
}

// handleBusinessTypeCallback processes business type selection from inline keyboard
func (b *Bot) handleBusinessTypeCallback(ctx context.Context, chatID int64, value string, sess *session.Session) {
	if sess.State() != session.StateAwaitingBusinessType {
		b.reprompt(chatID, sess)
		return
	}
	i, err := optionIndex(value, models.BusinessTypes)
	if err != nil {
		b.logger.Warn("Invalid business type selection", zap.Int64("chat_id", chatID), zap.Error(err))
		b.reprompt(chatID, sess)
		return
	}

	sess.Data.BusinessType = models.BusinessTypes[i]
	if err := sess.Fire(ctx, session.EventBusinessType); err != nil {
		b.logger.Error("Failed to advance session", zap.Error(err))
		b.sendText(chatID, msgGenericFailure)
		return
	}
	b.sendText(chatID, "🏭 Jenis Usaha: "+sess.Data.BusinessType)
	b.reprompt(chatID, sess)
}

// handlePackageCallback processes package selection from inline keyboard
func (b *Bot) handlePackageCallback(ctx context.Context, chatID int64, value string, sess *session.Session) {
	if sess.State() != session.StateAwaitingPackage {
		b.reprompt(chatID, sess)
		return
	}
	i, err := optionIndex(value, models.Packages)
	if err != nil {
		b.logger.Warn("Invalid package selection", zap.Int64("chat_id", chatID), zap.Error(err))
		b.reprompt(chatID, sess)
		return
	}

	sess.Data.Package = models.Packages[i]
	if err := sess.Fire(ctx, session.EventPackage); err != nil {
		b.logger.Error("Failed to advance session", zap.Error(err))
		b.sendText(chatID, msgGenericFailure)
		return
	}
	b.sendText(chatID, "⚡ Paket: "+sess.Data.Package)
	b.reprompt(chatID, sess)
}

// handleConfirmCallback saves, discards or retries the collected record
func (b *Bot) handleConfirmCallback(ctx context.Context, chatID int64, identity, value string, sess *session.Session) {
	awaiting := sess.State() == session.StateAwaitingConfirmation
	retrying := sess.State() == session.StateIdle && sess.RetryPending

	switch {
	case value == confirmNo && (awaiting || retrying):
		sess.End()
		b.sendText(chatID, msgCancelled)
	case value == confirmYes && awaiting:
		if err := sess.Fire(ctx, session.EventSubmit); err != nil {
			b.logger.Error("Failed to advance session", zap.Error(err))
			b.sendText(chatID, msgGenericFailure)
			return
		}
		b.submit(ctx, chatID, identity, sess)
	case value == confirmRetry && retrying:
		b.submit(ctx, chatID, identity, sess)
	case value == confirmRetry:
		b.sendText(chatID, msgNothingToSave)
	default:
		b.reprompt(chatID, sess)
	}
}

// submitValidationError lists the missing required fields
func submitValidationError(err error) *ValidationError {
	verr := &ValidationError{Reason: "required"}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		for _, f := range fields {
			verr.Fields = append(verr.Fields, f.Field())
		}
	}
	return verr
}

// submit appends the collected record. A store failure keeps the data in the
// idle session and offers a retry button.
func (b *Bot) submit(ctx context.Context, chatID int64, identity string, sess *session.Session) {
	data := sess.Data
	if data.Identity == "" {
		data.Identity = identity
	}
	data.SubmittedAt = b.now().In(b.opts.Location)

	if err := data.Validate(); err != nil {
		verr := submitValidationError(err)
		metrics.RecordsSubmitted.WithLabelValues("invalid").Inc()
		b.logger.Warn("Refusing incomplete record", zap.Int64("chat_id", chatID), zap.Error(verr))
		sess.End()
		b.sendText(chatID, fmt.Sprintf(msgIncomplete, strings.Join(verr.Fields, ", ")))
		return
	}

	ref, err := b.db.AppendRecord(ctx, data)
	if err != nil {
		metrics.RecordsSubmitted.WithLabelValues("failed").Inc()
		b.logger.Error("Failed to append record",
			zap.Int64("chat_id", chatID),
			zap.String("identity", data.Identity),
			zap.Error(err),
		)
		sess.Data = data
		sess.RetryPending = true
		b.sendWithMarkup(chatID, msgSaveFailed, retryKeyboard())
		return
	}
	metrics.RecordsSubmitted.WithLabelValues("ok").Inc()

	b.logger.Info("Record saved",
		zap.Int64("chat_id", chatID),
		zap.String("identity", data.Identity),
		zap.String("row", string(ref)),
		zap.String("sto", data.STO),
		zap.Bool("sto_detected", data.STODetected),
	)
	sess.End()
	b.sendText(chatID, formatSummary(&data))

	if b.opts.ChannelID != 0 {
		b.sendText(b.opts.ChannelID, formatChannelNotice(&data))
	}
}
