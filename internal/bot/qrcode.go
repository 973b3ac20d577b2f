package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrSize = 256

func (b *Bot) onQRCode(ctx context.Context, cb callback) string {
	c, err := b.engine.OwnedCollection(ctx, cb.userID, cb.arg)
	if err != nil {
		return b.callbackError(cb, "load collection", err)
	}

	link := b.referralLink(c.CollectionID, "")
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		b.logger.Error("Failed to encode QR code",
			zap.Error(err),
			zap.String("collection_id", c.CollectionID))
		return "Failed to create the QR code."
	}

	photo := tgbotapi.NewPhoto(cb.chatID, tgbotapi.FileBytes{Name: c.CollectionID + ".png", Bytes: png})
	photo.Caption = c.DisplayName + "\n" + link
	if _, err := b.api.Send(photo); err != nil {
		b.logger.Error("Failed to send QR code",
			zap.Error(err),
			zap.Int64("chat_id", cb.chatID))
		return "Failed to send the QR code."
	}
	return ""
}
