package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/session"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
	"go.uber.org/zap"
)

const minNameLength = 2

var (
	validName   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	invalidName = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

const urlPrompt = "🔗 Send the target URL.\n\n" +
	"Examples:\n" +
	"• @username (Telegram)\n" +
	"• t.me/username\n" +
	"• https://example.com\n\n" +
	"Send /cancel to cancel."

// suggestName turns free text into a collection name: spaces become
// underscores, anything else outside [a-z0-9_] is dropped.
func suggestName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	name = invalidName.ReplaceAllString(name, "")
	return strings.ToLower(name)
}

// handleConversation feeds free text into the user's current flow.
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message) {
	userID := message.From.ID
	chatID := message.Chat.ID
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return
	}

	state, err := b.sessions.Get(ctx, userID)
	if errors.Is(err, session.ErrNoSession) {
		b.sendMessage(chatID, "Use /newlinks to create a link collection or /help to see all commands.")
		return
	}
	if err != nil {
		b.logger.Error("Failed to load session", zap.Error(err), zap.Int64("user_id", userID))
		b.sendErrorMessage(chatID, "Something went wrong. Please try again.")
		return
	}

	switch state.Step {
	case session.StepAwaitingName, session.StepConfirmName:
		b.receiveName(ctx, chatID, userID, text)
	case session.StepAwaitingItemName:
		b.setSession(ctx, userID, session.State{
			Step:         session.StepAwaitingItemURL,
			CollectionID: state.CollectionID,
			ItemName:     text,
		})
		b.sendMessage(chatID, urlPrompt)
	case session.StepAwaitingItemURL:
		b.receiveItemURL(ctx, chatID, userID, state, text)
	case session.StepAwaitingEditName, session.StepAwaitingEditURL:
		b.receiveItemEdit(ctx, chatID, userID, state, text)
	default:
		b.sendMessage(chatID, "Use the buttons above to manage your links, or send /cancel.")
	}
}

func (b *Bot) receiveName(ctx context.Context, chatID, userID int64, name string) {
	if utf8.RuneCountInString(name) < minNameLength {
		b.sendMessage(chatID, "❌ Name must be at least 2 characters.")
		return
	}

	if !validName.MatchString(name) {
		suggested := suggestName(name)
		if len(suggested) < minNameLength {
			b.sendMessage(chatID, "❌ Cannot make a valid name from that. Please try again.")
			return
		}
		if !b.setSession(ctx, userID, session.State{Step: session.StepConfirmName, SuggestedName: suggested}) {
			b.sendErrorMessage(chatID, "Something went wrong. Please try again.")
			return
		}

		markup := tgbotapi.NewInlineKeyboardMarkup(
			buttonRow("✅ Yes, use it", callbackData(cbNameOK, "")),
			buttonRow("❌ No, I'll type another", callbackData(cbNameNo, "")),
		)
		b.sendMarkdown(chatID, fmt.Sprintf("📝 *Suggested name:*\n`%s`\n\nDo you want to use it?",
			escapeMarkdown(suggested)), &markup)
		return
	}

	b.createCollection(ctx, chatID, userID, strings.ToLower(name))
}

func (b *Bot) createCollection(ctx context.Context, chatID, userID int64, name string) {
	c, err := b.engine.CreateCollection(ctx, userID, name)
	if errors.Is(err, tracker.ErrDuplicateName) {
		b.setSession(ctx, userID, session.State{Step: session.StepAwaitingName})
		b.sendMessage(chatID, fmt.Sprintf("❌ You already have a collection named %s.\nPlease send a different name.", name))
		return
	}
	if err != nil {
		b.logger.Error("Failed to create collection",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("name", name))
		b.clearSession(ctx, userID)
		b.sendErrorMessage(chatID, "An error occurred while creating the link collection.")
		return
	}

	b.setSession(ctx, userID, session.State{Step: session.StepManaging, CollectionID: c.CollectionID})
	text, markup := b.managementView(c, nil)
	b.sendMarkdown(chatID, text, markup)
}

func (b *Bot) receiveItemURL(ctx context.Context, chatID, userID int64, state session.State, rawURL string) {
	item, err := b.engine.AddItem(ctx, userID, state.CollectionID, state.ItemName, rawURL)
	if err != nil {
		b.replyEngineError(chatID, userID, "add item", err)
		return
	}

	b.logger.Info("Link added",
		zap.String("collection_id", item.CollectionID),
		zap.Int64("item_id", item.ItemID),
		zap.String("kind", string(item.Kind)))

	b.setSession(ctx, userID, session.State{Step: session.StepManaging, CollectionID: state.CollectionID})
	b.sendMessage(chatID, "✅ Link added.")
	b.sendManagement(ctx, chatID, userID, state.CollectionID)
}

func (b *Bot) receiveItemEdit(ctx context.Context, chatID, userID int64, state session.State, value string) {
	var edit tracker.ItemEdit
	if state.Step == session.StepAwaitingEditName {
		edit.Name = &value
	} else {
		edit.URL = &value
	}

	item, err := b.engine.UpdateItem(ctx, userID, state.ItemID, edit)
	if err != nil {
		b.replyEngineError(chatID, userID, "update item", err)
		return
	}

	b.setSession(ctx, userID, session.State{Step: session.StepManaging, CollectionID: item.CollectionID})
	b.sendMessage(chatID, "✅ Link updated.")
	b.sendManagement(ctx, chatID, userID, item.CollectionID)
}

func (b *Bot) sendManagement(ctx context.Context, chatID, userID int64, collectionID string) {
	c, items, err := b.loadManaged(ctx, userID, collectionID)
	if err != nil {
		b.replyEngineError(chatID, userID, "load collection", err)
		return
	}
	text, markup := b.managementView(c, items)
	b.sendMarkdown(chatID, text, markup)
}

func (b *Bot) loadManaged(ctx context.Context, userID int64, collectionID string) (*models.LinkCollection, []models.LinkItem, error) {
	c, err := b.engine.OwnedCollection(ctx, userID, collectionID)
	if err != nil {
		return nil, nil, err
	}
	items, err := b.engine.Items(ctx, userID, collectionID)
	if err != nil {
		return nil, nil, err
	}
	return c, items, nil
}

// userMessage maps engine errors the user can act on; ok is false for
// internal failures.
func userMessage(err error) (msg string, ok bool) {
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return "❌ Not found. It may have been deleted.", true
	case errors.Is(err, tracker.ErrAccessDenied):
		return "⛔ This collection belongs to someone else.", true
	case errors.Is(err, tracker.ErrInvalidName):
		return "❌ Please send a non-empty name.", true
	case errors.Is(err, tracker.ErrInvalidTarget):
		return "❌ Please send a valid URL or @username.", true
	case errors.Is(err, tracker.ErrDuplicateName):
		return "❌ You already have a collection with that name.", true
	default:
		return "Something went wrong. Please try again later.", false
	}
}

func (b *Bot) replyEngineError(chatID, userID int64, op string, err error) {
	msg, ok := userMessage(err)
	if ok {
		b.sendMessage(chatID, msg)
		return
	}
	b.logger.Error("Failed to "+op,
		zap.Error(err),
		zap.Int64("user_id", userID))
	b.sendErrorMessage(chatID, msg)
}
