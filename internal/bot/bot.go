package bot

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/link-tracker-bot/internal/classifier"
	"github.com/xaenox/link-tracker-bot/internal/session"
	"github.com/xaenox/link-tracker-bot/internal/storage"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
	"go.uber.org/zap"
)

// API is the subset of the Telegram Bot API the bot talks to.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Options struct {
	BotUsername string
	RecentLimit int
}

type Bot struct {
	api         API
	engine      *tracker.Engine
	directory   storage.UserDirectory
	sessions    session.Store
	classifier  classifier.Classifier
	limiter     *RateLimiter
	username    string
	recentLimit int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func New(api API, engine *tracker.Engine, directory storage.UserDirectory, sessions session.Store,
	clf classifier.Classifier, limiter *RateLimiter, opts Options, logger *zap.Logger) *Bot {
	return &Bot{
		api:         api,
		engine:      engine,
		directory:   directory,
		sessions:    sessions,
		classifier:  clf,
		limiter:     limiter,
		username:    strings.TrimPrefix(opts.BotUsername, "@"),
		recentLimit: opts.RecentLimit,
		logger:      logger,
	}
}

// Start handles updates, one goroutine each, until ctx is cancelled or the
// channel closes, then waits for in-flight handlers.
func (b *Bot) Start(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	if b.limiter != nil {
		go b.limiter.Run(ctx)
	}

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, update)
			}()
		}
	}
}

// HandleUpdate routes a single update.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in update handler",
				zap.Any("panic", r),
				zap.Int("update_id", update.UpdateID))
		}
	}()

	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	message := update.Message
	if message == nil || message.From == nil || message.Chat == nil {
		return
	}

	b.trackUser(ctx, message.From)

	switch {
	case message.Chat.IsPrivate():
		if !b.allow(message.From.ID) {
			b.logger.Debug("Dropping rate limited message", zap.Int64("user_id", message.From.ID))
			return
		}
		b.handleMessage(ctx, message)
	case message.Chat.IsGroup() || message.Chat.IsSuperGroup():
		b.monitorGroup(ctx, message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}
	b.handleConversation(ctx, message)
}

func (b *Bot) allow(userID int64) bool {
	return b.limiter == nil || b.limiter.Allow(userID)
}

func (b *Bot) trackUser(ctx context.Context, user *tgbotapi.User) {
	if b.directory == nil {
		return
	}
	if err := b.directory.TouchUser(ctx, toUserProfile(user)); err != nil {
		b.logger.Error("Failed to track user",
			zap.Error(err),
			zap.Int64("user_id", user.ID))
	}
}

// escapeMarkdown escapes text for MarkdownV2.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// sendMarkdown sends MarkdownV2 text; callers escape dynamic parts.
func (b *Bot) sendMarkdown(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// editMarkdown replaces the text of a bot message, keeping it MarkdownV2.
func (b *Bot) editMarkdown(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	edit.DisableWebPagePreview = true
	edit.ReplyMarkup = markup
	if _, err := b.api.Send(edit); err != nil {
		b.logger.Error("Failed to edit message",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
