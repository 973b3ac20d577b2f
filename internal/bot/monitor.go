package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// monitorGroup records the chat and member and attributes the message to
// collections the sender clicked through. Failures are logged, never replied.
func (b *Bot) monitorGroup(ctx context.Context, message *tgbotapi.Message) {
	ev := toChatMessage(message)

	if b.directory != nil {
		if err := b.directory.SaveChat(ctx, ev.Chat); err != nil {
			b.logger.Error("Failed to save chat",
				zap.Error(err),
				zap.Int64("chat_id", ev.Chat.ID))
		}
		if err := b.directory.TouchMember(ctx, ev.Chat.ID, ev.Sender); err != nil {
			b.logger.Error("Failed to track member",
				zap.Error(err),
				zap.Int64("chat_id", ev.Chat.ID),
				zap.Int64("user_id", ev.Sender.ID))
		}
	}

	recorded, err := b.engine.AttributeChatEvent(ctx, ev)
	if err != nil {
		b.logger.Error("Failed to attribute chat message",
			zap.Error(err),
			zap.Int64("chat_id", ev.Chat.ID),
			zap.Int64("user_id", ev.Sender.ID))
		return
	}
	if recorded > 0 {
		b.logger.Debug("Activity recorded",
			zap.Int64("chat_id", ev.Chat.ID),
			zap.Int64("user_id", ev.Sender.ID),
			zap.Int("collections", recorded))
	}
}
