package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/link-tracker-bot/internal/session"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
	"go.uber.org/zap"
)

type callback struct {
	userID    int64
	chatID    int64
	messageID int
	arg       string
}

// handleCallback routes inline button presses. Every press is answered
// exactly once with the text the handler returns.
func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}
	b.trackUser(ctx, query.From)

	if !b.allow(query.From.ID) {
		b.answer(query, "⏳ Too many requests, please slow down.")
		return
	}
	if query.Message == nil || query.Message.Chat == nil {
		b.answer(query, "")
		return
	}

	action, arg, _ := strings.Cut(query.Data, ":")
	cb := callback{
		userID:    query.From.ID,
		chatID:    query.Message.Chat.ID,
		messageID: query.Message.MessageID,
		arg:       arg,
	}

	var reply string
	switch action {
	case cbNameOK:
		reply = b.onConfirmName(ctx, cb)
	case cbNameNo:
		reply = b.onRejectName(ctx, cb)
	case cbManage:
		reply = b.onManage(ctx, cb)
	case cbAddItem:
		reply = b.onAddItem(ctx, cb)
	case cbEditItems:
		reply = b.onPickItem(ctx, cb, cbItem, "Pick a link to edit:")
	case cbRemoveMenu:
		reply = b.onPickItem(ctx, cb, cbItemRemove, "Pick a link to delete:")
	case cbItem:
		reply = b.onItem(ctx, cb)
	case cbItemName:
		reply = b.onEditItem(ctx, cb, session.StepAwaitingEditName)
	case cbItemURL:
		reply = b.onEditItem(ctx, cb, session.StepAwaitingEditURL)
	case cbItemRemove:
		reply = b.onRemoveItem(ctx, cb)
	case cbDone:
		b.clearSession(ctx, cb.userID)
		reply = b.onShow(ctx, cb)
	case cbShow:
		reply = b.onShow(ctx, cb)
	case cbMyLinks:
		reply = b.onMyLinks(ctx, cb)
	case cbQR:
		reply = b.onQRCode(ctx, cb)
	case cbStats:
		reply = b.onStats(ctx, cb)
	case cbActivity:
		reply = b.onActivity(ctx, cb)
	case cbDeleteAsk:
		reply = b.onDeleteAsk(ctx, cb)
	case cbDeleteYes:
		reply = b.onDeleteConfirm(ctx, cb)
	case cbDeleteNo:
		b.editMarkdown(cb.chatID, cb.messageID, "Cancelled\\.", nil)
	default:
		b.logger.Warn("Unknown callback", zap.String("data", query.Data), zap.Int64("user_id", cb.userID))
		reply = "Unknown action."
	}

	b.answer(query, reply)
}

func (b *Bot) answer(query *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		b.logger.Error("Failed to answer callback",
			zap.Error(err),
			zap.String("callback_id", query.ID))
	}
}

func (b *Bot) callbackError(cb callback, op string, err error) string {
	msg, ok := userMessage(err)
	if !ok {
		b.logger.Error("Failed to "+op,
			zap.Error(err),
			zap.Int64("user_id", cb.userID),
			zap.String("arg", cb.arg))
	}
	return msg
}

func (b *Bot) onConfirmName(ctx context.Context, cb callback) string {
	state, err := b.sessions.Get(ctx, cb.userID)
	if err != nil || state.Step != session.StepConfirmName || state.SuggestedName == "" {
		return "This step has expired. Use /newlinks to start again."
	}
	b.createCollection(ctx, cb.chatID, cb.userID, state.SuggestedName)
	return ""
}

func (b *Bot) onRejectName(ctx context.Context, cb callback) string {
	b.setSession(ctx, cb.userID, session.State{Step: session.StepAwaitingName})
	b.editMarkdown(cb.chatID, cb.messageID, "📝 OK, send another name\\.", nil)
	return ""
}

func (b *Bot) onManage(ctx context.Context, cb callback) string {
	c, items, err := b.loadManaged(ctx, cb.userID, cb.arg)
	if err != nil {
		return b.callbackError(cb, "load collection", err)
	}
	b.setSession(ctx, cb.userID, session.State{Step: session.StepManaging, CollectionID: c.CollectionID})
	text, markup := b.managementView(c, items)
	b.editMarkdown(cb.chatID, cb.messageID, text, markup)
	return ""
}

func (b *Bot) onAddItem(ctx context.Context, cb callback) string {
	if _, err := b.engine.OwnedCollection(ctx, cb.userID, cb.arg); err != nil {
		return b.callbackError(cb, "load collection", err)
	}
	b.setSession(ctx, cb.userID, session.State{Step: session.StepAwaitingItemName, CollectionID: cb.arg})
	b.sendMessage(cb.chatID, "✏️ Send the display name for the new link.\n\nSend /cancel to cancel.")
	return ""
}

func (b *Bot) onPickItem(ctx context.Context, cb callback, action, title string) string {
	c, items, err := b.loadManaged(ctx, cb.userID, cb.arg)
	if err != nil {
		return b.callbackError(cb, "load collection", err)
	}
	if len(items) == 0 {
		return "There are no links yet."
	}
	text, markup := itemPicker(c, items, action, title)
	b.editMarkdown(cb.chatID, cb.messageID, text, markup)
	return ""
}

func (b *Bot) onItem(ctx context.Context, cb callback) string {
	itemID, err := strconv.ParseInt(cb.arg, 10, 64)
	if err != nil {
		return "Unknown action."
	}
	item, err := b.engine.Item(ctx, cb.userID, itemID)
	if err != nil {
		return b.callbackError(cb, "load item", err)
	}
	text, markup := itemView(item)
	b.editMarkdown(cb.chatID, cb.messageID, text, markup)
	return ""
}

func (b *Bot) onEditItem(ctx context.Context, cb callback, step session.Step) string {
	itemID, err := strconv.ParseInt(cb.arg, 10, 64)
	if err != nil {
		return "Unknown action."
	}
	item, err := b.engine.Item(ctx, cb.userID, itemID)
	if err != nil {
		return b.callbackError(cb, "load item", err)
	}

	b.setSession(ctx, cb.userID, session.State{Step: step, CollectionID: item.CollectionID, ItemID: item.ItemID})
	if step == session.StepAwaitingEditName {
		b.sendMessage(cb.chatID, fmt.Sprintf("✏️ Send the new name for %s.\n\nSend /cancel to cancel.", item.DisplayName))
	} else {
		b.sendMessage(cb.chatID, urlPrompt)
	}
	return ""
}

func (b *Bot) onRemoveItem(ctx context.Context, cb callback) string {
	itemID, err := strconv.ParseInt(cb.arg, 10, 64)
	if err != nil {
		return "Unknown action."
	}
	item, err := b.engine.Item(ctx, cb.userID, itemID)
	if err != nil {
		return b.callbackError(cb, "load item", err)
	}
	if _, err := b.engine.DeleteItem(ctx, cb.userID, itemID); err != nil {
		return b.callbackError(cb, "delete item", err)
	}

	c, items, err := b.loadManaged(ctx, cb.userID, item.CollectionID)
	if err != nil {
		return b.callbackError(cb, "load collection", err)
	}
	text, markup := b.managementView(c, items)
	b.editMarkdown(cb.chatID, cb.messageID, text, markup)
	return "🗑 Link deleted."
}

func (b *Bot) onShow(ctx context.Context, cb callback) string {
	c, items, err := b.loadManaged(ctx, cb.userID, cb.arg)
	if err != nil {
		return b.callbackError(cb, "load collection", err)
	}
	text, markup := b.collectionView(c, len(items))
	b.editMarkdown(cb.chatID, cb.messageID, text, markup)
	return ""
}

func (b *Bot) onMyLinks(ctx context.Context, cb callback) string {
	summaries, err := b.engine.ListCollections(ctx, cb.userID)
	if err != nil {
		return b.callbackError(cb, "list collections", err)
	}
	text, markup := myLinksView(summaries)
	b.editMarkdown(cb.chatID, cb.messageID, text, markup)
	return ""
}

func (b *Bot) onStats(ctx context.Context, cb callback) string {
	report, err := b.engine.ClickReport(ctx, cb.userID, cb.arg, b.recentLimit)
	if err != nil {
		return b.callbackError(cb, "build click report", err)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(buttonRow("⬅️ Back", callbackData(cbShow, cb.arg)))
	b.editMarkdown(cb.chatID, cb.messageID, clickReportText(report), &markup)
	return ""
}

func (b *Bot) onActivity(ctx context.Context, cb callback) string {
	report, err := b.engine.ActivityReport(ctx, cb.userID, cb.arg, b.recentLimit)
	if err != nil {
		return b.callbackError(cb, "build activity report", err)
	}

	excerpts := make([]string, 0, len(report.Recent))
	for _, ev := range report.Recent {
		excerpts = append(excerpts, ev.MessageExcerpt)
	}
	digest := b.classifier.Digest(ctx, excerpts)

	markup := tgbotapi.NewInlineKeyboardMarkup(buttonRow("⬅️ Back", callbackData(cbShow, cb.arg)))
	b.editMarkdown(cb.chatID, cb.messageID, activityReportText(report, digest), &markup)
	return ""
}

func (b *Bot) onDeleteAsk(ctx context.Context, cb callback) string {
	c, err := b.engine.OwnedCollection(ctx, cb.userID, cb.arg)
	if err != nil {
		return b.callbackError(cb, "load collection", err)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗑 Yes, delete", callbackData(cbDeleteYes, c.CollectionID)),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackData(cbDeleteNo, "")),
	))
	b.editMarkdown(cb.chatID, cb.messageID, fmt.Sprintf("⚠️ Delete *%s* with all its links and statistics?",
		escapeMarkdown(c.DisplayName)), &markup)
	return ""
}

func (b *Bot) onDeleteConfirm(ctx context.Context, cb callback) string {
	deleted, err := b.engine.DeleteCollection(ctx, cb.userID, cb.arg)
	if err != nil {
		return b.callbackError(cb, "delete collection", err)
	}
	if !deleted {
		msg, _ := userMessage(tracker.ErrNotFound)
		return msg
	}

	if state, err := b.sessions.Get(ctx, cb.userID); err == nil && state.CollectionID == cb.arg {
		b.clearSession(ctx, cb.userID)
	} else if err != nil && !errors.Is(err, session.ErrNoSession) {
		b.logger.Error("Failed to load session", zap.Error(err), zap.Int64("user_id", cb.userID))
	}

	b.editMarkdown(cb.chatID, cb.messageID, "🗑 Collection deleted\\.", nil)
	return ""
}
