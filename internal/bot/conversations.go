package bot

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"odpbot/internal/geo"
	"odpbot/internal/metrics"
	"odpbot/internal/session"
)

const maxAddressLength = 500

// handleConversation hands a non-command message to the current step. Each
// step takes one input category; anything else repeats the question.
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, kind inputKind, sess *session.Session) {
	chatID := message.Chat.ID

	switch sess.State() {
	case session.StateAwaitingAddress:
		if kind != inputText {
			b.reprompt(chatID, sess)
			return
		}
		b.handleAddress(ctx, chatID, message.Text, sess)

	case session.StateAwaitingLocation:
		if kind != inputLocation && kind != inputText {
			b.reprompt(chatID, sess)
			return
		}
		b.handleLocation(ctx, message, kind, sess)

	case session.StateAwaitingPhoto:
		if kind != inputPhoto {
			b.reprompt(chatID, sess)
			return
		}
		b.handlePhoto(ctx, message, sess)

	case session.StateAwaitingODPLocation:
		if kind != inputLocation && kind != inputText {
			b.reprompt(chatID, sess)
			return
		}
		b.handleODPLocation(ctx, message, kind, sess)

	default:
		// Button steps and idle
		b.reprompt(chatID, sess)
	}
}

func validateAddress(text string) (string, error) {
	address := strings.TrimSpace(text)
	if address == "" {
		return "", &ValidationError{Fields: []string{"Address"}, Reason: "empty"}
	}
	if utf8.RuneCountInString(address) > maxAddressLength {
		return "", &ValidationError{Fields: []string{"Address"}, Reason: fmt.Sprintf("longer than %d characters", maxAddressLength)}
	}
	return address, nil
}

func (b *Bot) handleAddress(ctx context.Context, chatID int64, text string, sess *session.Session) {
	address, err := validateAddress(text)
	if err != nil {
		b.logger.Debug("Rejected address", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, msgInvalidAddress)
		return
	}

	sess.Data.Address = address
	if err := sess.Fire(ctx, session.EventAddress); err != nil {
		b.logger.Error("Failed to advance session", zap.Error(err))
		b.sendText(chatID, msgGenericFailure)
		return
	}
	b.reprompt(chatID, sess)
}

// coordinatesOf reads a native location share or extracts a maps link from text
func (b *Bot) coordinatesOf(ctx context.Context, message *tgbotapi.Message, kind inputKind) (float64, float64, bool) {
	if kind == inputLocation {
		lat, lon := message.Location.Latitude, message.Location.Longitude
		return lat, lon, geo.Valid(lat, lon)
	}

	lat, lon, err := b.extractor.ExtractCoordinates(ctx, message.Text)
	if err != nil {
		b.logger.Debug("No coordinates in message",
			zap.Int64("chat_id", message.Chat.ID),
			zap.String("text", message.Text),
		)
		return 0, 0, false
	}
	return lat, lon, true
}

// handleLocation captures coordinates and detects the STO from the nearest
// ODP. Detection failure falls back to the agent's own STO; the flow always
// moves on to the package step.
func (b *Bot) handleLocation(ctx context.Context, message *tgbotapi.Message, kind inputKind, sess *session.Session) {
	chatID := message.Chat.ID
	d := &sess.Data
	d.Latitude, d.Longitude, d.MapsLink = nil, nil, ""
	d.STO, d.STODetected, d.ODPName = "", false, ""

	lat, lon, parsed := b.coordinatesOf(ctx, message, kind)
	if parsed {
		d.Latitude, d.Longitude = &lat, &lon
		d.MapsLink = geo.MapsLink(lat, lon)

		match, err := b.locator.DetectSTO(ctx, lat, lon)
		if err == nil {
			d.STO = match.Entry.STO
			d.STODetected = true
			d.ODPName = match.Entry.Name
		} else {
			b.logger.Info("STO detection failed, using credential STO",
				zap.Int64("chat_id", chatID),
				zap.Float64("lat", lat),
				zap.Float64("lon", lon),
				zap.Error(err),
			)
		}
	} else if kind == inputText {
		d.MapsLink = strings.TrimSpace(message.Text)
	}

	if !d.STODetected && sess.Credentials != nil {
		d.STO = sess.Credentials.STO
	}
	source := "credential"
	if d.STODetected {
		source = "detected"
	}
	metrics.STODetections.WithLabelValues(source).Inc()

	if err := sess.Fire(ctx, session.EventLocation); err != nil {
		b.logger.Error("Failed to advance session", zap.Error(err))
		b.sendText(chatID, msgGenericFailure)
		return
	}
	b.sendWithMarkup(chatID, formatLocationAck(d, parsed), tgbotapi.NewRemoveKeyboard(true))
	b.reprompt(chatID, sess)
}

// fetchPhoto downloads a Telegram file through its direct URL. The URL embeds
// the bot token, so it never reaches the returned error.
func (b *Bot) fetchPhoto(ctx context.Context, fileID string) ([]byte, string, error) {
	fileURL, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get file URL: %s", b.redact(err))
	}
	name := path.Base(fileURL)
	_, body, err := b.download.Get(ctx, fileURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download photo %s: %s", name, b.redact(err))
	}
	return body, name, nil
}

// redact renders err with the bot token masked
func (b *Bot) redact(err error) string {
	if b.token == "" {
		return err.Error()
	}
	return strings.ReplaceAll(err.Error(), b.token, "<token>")
}

// handlePhoto uploads the largest photo size. Any failure keeps the chat at
// the photo step so the agent can resend.
func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message, sess *session.Session) {
	chatID := message.Chat.ID
	largest := message.Photo[len(message.Photo)-1]
	sess.PendingPhoto = largest.FileID

	data, name, err := b.fetchPhoto(ctx, largest.FileID)
	if err == nil {
		sess.Data.PhotoURL, err = b.blobs.UploadPhoto(ctx, data, name)
	}
	if err != nil {
		metrics.PhotoUploads.WithLabelValues("failed").Inc()
		b.logger.Error("Failed to store photo",
			zap.Int64("chat_id", chatID),
			zap.String("file_id", largest.FileID),
			zap.Error(err),
		)
		sess.Data.PhotoURL = ""
		b.sendText(chatID, msgUploadFailed)
		return
	}
	metrics.PhotoUploads.WithLabelValues("ok").Inc()

	sess.PendingPhoto = ""
	if err := sess.Fire(ctx, session.EventPhoto); err != nil {
		b.logger.Error("Failed to advance session", zap.Error(err))
		b.sendText(chatID, msgGenericFailure)
		return
	}
	b.reprompt(chatID, sess)
}

// handleODPLocation answers an /odp lookup. An unreadable link asks again;
// once coordinates are known the chat returns to idle whatever the outcome.
func (b *Bot) handleODPLocation(ctx context.Context, message *tgbotapi.Message, kind inputKind, sess *session.Session) {
	chatID := message.Chat.ID

	lat, lon, ok := b.coordinatesOf(ctx, message, kind)
	if !ok {
		b.sendText(chatID, msgLinkNotParsed)
		return
	}

	if err := sess.Fire(ctx, session.EventODPDone); err != nil {
		b.logger.Error("Failed to leave ODP flow", zap.Error(err))
		sess.Reset()
	}

	matches, err := b.locator.FindNearest(ctx, lat, lon, 0)
	if err != nil {
		b.logger.Error("Failed to find nearest ODP", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendWithMarkup(chatID, msgODPLoadFailed, tgbotapi.NewRemoveKeyboard(true))
		return
	}
	metrics.ODPSearches.Inc()

	if len(matches) == 0 {
		b.sendWithMarkup(chatID, msgODPNone, tgbotapi.NewRemoveKeyboard(true))
		return
	}
	b.sendHTML(chatID, formatODPResults(lat, lon, matches), tgbotapi.NewRemoveKeyboard(true))
}
