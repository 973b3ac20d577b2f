package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/link-tracker-bot/internal/deeplink"
	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/session"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
	"go.uber.org/zap"
)

const helpText = `🔗 Link Tracker Bot

Bundle several links behind one referral link and see who clicks and who talks afterwards.

/newlinks - Create a link collection
/mylinks - Manage your collections
/stats - Click statistics
/activity - Chat activity of people who clicked
/deletegroup - Delete a collection
/cancel - Cancel the current step
/help - Show this message

Append -source to a referral link (for example -fb) to see where clicks come from.`

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.sendMessage(message.Chat.ID, helpText)
	case "newlinks":
		b.handleNewLinks(ctx, message)
	case "mylinks":
		b.handleMyLinks(ctx, message)
	case "stats":
		b.handlePickCollection(ctx, message, cbStats, "📊 Pick a collection to see its clicks:")
	case "activity":
		b.handleActivity(ctx, message)
	case "deletegroup":
		b.handlePickCollection(ctx, message, cbDeleteAsk, "🗑 Pick a collection to delete:")
	case "cancel":
		b.handleCancel(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see what I can do.")
	}
}

// handleStart serves deep links; without a payload it greets.
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	payload := strings.TrimSpace(message.CommandArguments())
	if payload == "" {
		b.sendMessage(chatID, helpText)
		return
	}

	res, err := b.engine.ResolveDeeplink(ctx, models.ClickRequested{
		Payload: payload,
		Clicker: toUserProfile(message.From),
	})
	switch {
	case err == nil:
	case errors.Is(err, deeplink.ErrInvalidPayload):
		b.sendMessage(chatID, "❌ Invalid link format.")
		return
	case errors.Is(err, tracker.ErrNotFound):
		b.sendMessage(chatID, "❌ Link not found or expired.")
		return
	case errors.Is(err, tracker.ErrEmptyCollection):
		b.sendMessage(chatID, "This link collection has no links yet.")
		return
	default:
		b.logger.Error("Failed to resolve deep link",
			zap.Error(err),
			zap.String("payload", payload),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(chatID, "Something went wrong. Please try again later.")
		return
	}

	b.logger.Info("Deep link opened",
		zap.String("collection_id", res.Collection.CollectionID),
		zap.String("source", res.Ref.Source),
		zap.Int64("user_id", message.From.ID))

	text, markup := resolutionView(res)
	b.sendMarkdown(chatID, text, markup)
}

func (b *Bot) handleNewLinks(ctx context.Context, message *tgbotapi.Message) {
	if !b.setSession(ctx, message.From.ID, session.State{Step: session.StepAwaitingName}) {
		b.sendErrorMessage(message.Chat.ID, "Failed to start. Please try again.")
		return
	}
	b.sendMessage(message.Chat.ID, "📝 Send a name for the new link collection.\n\n"+
		"Use at least 2 letters, digits or underscores, for example promo_links.\n"+
		"Send /cancel to cancel.")
}

func (b *Bot) handleMyLinks(ctx context.Context, message *tgbotapi.Message) {
	summaries, err := b.engine.ListCollections(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to list collections", zap.Error(err), zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Failed to load your collections.")
		return
	}
	text, markup := myLinksView(summaries)
	b.sendMarkdown(message.Chat.ID, text, markup)
}

func (b *Bot) handlePickCollection(ctx context.Context, message *tgbotapi.Message, action, prompt string) {
	summaries, err := b.engine.ListCollections(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to list collections", zap.Error(err), zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Failed to load your collections.")
		return
	}
	if len(summaries) == 0 {
		b.sendMessage(message.Chat.ID, "You have no link collections yet. Use /newlinks to create one.")
		return
	}
	b.sendMarkdown(message.Chat.ID, escapeMarkdown(prompt), collectionButtons(summaries, action))
}

func (b *Bot) handleActivity(ctx context.Context, message *tgbotapi.Message) {
	overview, err := b.engine.ActivityOverview(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to load activity", zap.Error(err), zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Failed to load activity.")
		return
	}
	text, markup := activityOverviewView(overview)
	b.sendMarkdown(message.Chat.ID, text, markup)
}

func (b *Bot) handleCancel(ctx context.Context, message *tgbotapi.Message) {
	b.clearSession(ctx, message.From.ID)
	b.sendMessage(message.Chat.ID, "❌ Cancelled.")
}

func (b *Bot) setSession(ctx context.Context, userID int64, state session.State) bool {
	if err := b.sessions.Set(ctx, userID, state); err != nil {
		b.logger.Error("Failed to save session",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("step", string(state.Step)))
		return false
	}
	return true
}

func (b *Bot) clearSession(ctx context.Context, userID int64) {
	if err := b.sessions.Delete(ctx, userID); err != nil {
		b.logger.Error("Failed to clear session", zap.Error(err), zap.Int64("user_id", userID))
	}
}
