package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/link-tracker-bot/internal/classifier"
	"github.com/xaenox/link-tracker-bot/internal/deeplink"
	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/targets"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
)

// Callback actions. Data is "<action>:<arg>" and must fit in 64 bytes, which
// the longest collection id plus the longest action does.
const (
	cbManage     = "g"
	cbAddItem    = "a"
	cbEditItems  = "e"
	cbRemoveMenu = "r"
	cbDone       = "d"
	cbQR         = "q"
	cbShow       = "s"
	cbStats      = "st"
	cbActivity   = "ac"
	cbDeleteAsk  = "x"
	cbDeleteYes  = "xy"
	cbDeleteNo   = "xn"
	cbMyLinks    = "m"
	cbItem       = "ie"
	cbItemName   = "in"
	cbItemURL    = "iu"
	cbItemRemove = "ir"
	cbNameOK     = "cn"
	cbNameNo     = "cx"
)

const excerptPreview = 80

func callbackData(action, arg string) string {
	return action + ":" + arg
}

func itemArg(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (b *Bot) referralLink(collectionID, source string) string {
	return deeplink.StartURL(b.username, deeplink.Encode(collectionID, source))
}

func displayUser(u models.UserProfile) string {
	switch {
	case u.Handle != "":
		return "@" + u.Handle
	case u.FirstName != "":
		return strings.TrimSpace(u.FirstName + " " + u.LastName)
	default:
		return "id " + strconv.FormatInt(u.ID, 10)
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= excerptPreview {
		return s
	}
	runes := []rune(s)
	return string(runes[:excerptPreview]) + "…"
}

func buttonRow(label, data string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data))
}

func (b *Bot) managementView(c *models.LinkCollection, items []models.LinkItem) (string, *tgbotapi.InlineKeyboardMarkup) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔗 *%s*\n\n", escapeMarkdown(c.DisplayName)))
	if len(items) == 0 {
		sb.WriteString("No links yet\\. Add the first one below\\.")
	}
	for i, item := range items {
		sb.WriteString(fmt.Sprintf("%d\\. %s → %s\n", i+1,
			escapeMarkdown(item.DisplayName), escapeMarkdown(targets.PublicURL(item))))
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add Link", callbackData(cbAddItem, c.CollectionID)),
			tgbotapi.NewInlineKeyboardButtonData("✏️ Edit Link", callbackData(cbEditItems, c.CollectionID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Delete Link", callbackData(cbRemoveMenu, c.CollectionID)),
			tgbotapi.NewInlineKeyboardButtonData("✅ Done", callbackData(cbDone, c.CollectionID)),
		),
	)
	return sb.String(), &markup
}

func (b *Bot) collectionView(c *models.LinkCollection, itemCount int) (string, *tgbotapi.InlineKeyboardMarkup) {
	link := b.referralLink(c.CollectionID, "")

	text := fmt.Sprintf("✅ *%s*\n\n", escapeMarkdown(c.DisplayName)) +
		fmt.Sprintf("🔗 Referral link:\n`%s`\n\n", escapeMarkdown(link)) +
		fmt.Sprintf("👆 Clicks: %d\n📎 Links: %d\n\n", c.ClickCount, itemCount) +
		fmt.Sprintf("💡 Tip: add a source to see where clicks come from\n`%s`", escapeMarkdown(b.referralLink(c.CollectionID, "fb")))

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", callbackData(cbManage, c.CollectionID)),
			tgbotapi.NewInlineKeyboardButtonData("📱 QR code", callbackData(cbQR, c.CollectionID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Stats", callbackData(cbStats, c.CollectionID)),
			tgbotapi.NewInlineKeyboardButtonData("💬 Activity", callbackData(cbActivity, c.CollectionID)),
		),
		buttonRow("⬅️ My links", callbackData(cbMyLinks, "")),
	)
	return text, &markup
}

func myLinksView(summaries []models.CollectionSummary) (string, *tgbotapi.InlineKeyboardMarkup) {
	if len(summaries) == 0 {
		return "You have no link collections yet\\. Use /newlinks to create one\\.", nil
	}

	var sb strings.Builder
	sb.WriteString("📂 *Your link collections*\n\n")
	for _, s := range summaries {
		sb.WriteString(fmt.Sprintf("📂 %s \\(%d clicks, %d links\\)\n",
			escapeMarkdown(s.DisplayName), s.ClickCount, s.ItemCount))
	}
	return sb.String(), collectionButtons(summaries, cbShow)
}

func collectionButtons(summaries []models.CollectionSummary, action string) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(s.DisplayName, callbackData(action, s.CollectionID))))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// itemPicker lists items as buttons leading to action, with a way back to
// the management menu.
func itemPicker(c *models.LinkCollection, items []models.LinkItem, action, title string) (string, *tgbotapi.InlineKeyboardMarkup) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items)+1)
	for _, item := range items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(item.DisplayName, callbackData(action, itemArg(item.ItemID)))))
	}
	rows = append(rows, buttonRow("⬅️ Back", callbackData(cbManage, c.CollectionID)))

	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return fmt.Sprintf("🔗 *%s*\n\n%s", escapeMarkdown(c.DisplayName), escapeMarkdown(title)), &markup
}

func itemView(item *models.LinkItem) (string, *tgbotapi.InlineKeyboardMarkup) {
	text := fmt.Sprintf("*%s*\n%s", escapeMarkdown(item.DisplayName), escapeMarkdown(targets.PublicURL(*item)))
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Rename", callbackData(cbItemName, itemArg(item.ItemID))),
			tgbotapi.NewInlineKeyboardButtonData("🔗 Change URL", callbackData(cbItemURL, itemArg(item.ItemID))),
		),
		buttonRow("⬅️ Back", callbackData(cbEditItems, item.CollectionID)),
	)
	return text, &markup
}

func resolutionView(res *tracker.Resolution) (string, *tgbotapi.InlineKeyboardMarkup) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(res.Items))
	for _, item := range res.Items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(item.DisplayName, targets.PublicURL(item))))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return fmt.Sprintf("🔗 *%s*\n\nChoose where to go:", escapeMarkdown(res.Collection.DisplayName)), &markup
}

func clickReportText(r *tracker.ClickReport) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 *%s*\n\n", escapeMarkdown(r.Collection.DisplayName)))
	sb.WriteString(fmt.Sprintf("Total clicks: %d\nUnique users: %d\n", r.TotalClicks, len(r.Clickers)))

	if len(r.Sources) > 0 {
		sb.WriteString("\n*Sources*\n")
		for _, s := range r.Sources {
			source := s.Source
			if source == "" {
				source = "direct"
			}
			sb.WriteString(fmt.Sprintf("• %s: %d clicks, %d users\n", escapeMarkdown(source), s.Clicks, s.UniqueUsers))
		}
	}

	if len(r.Recent) > 0 {
		sb.WriteString("\n*Recent clicks*\n")
		for _, click := range r.Recent {
			line := fmt.Sprintf("%s %s", click.ClickedAt.Format("2006-01-02 15:04"), displayUser(click.Clicker))
			if click.Source != "" {
				line += " via " + click.Source
			}
			sb.WriteString("• " + escapeMarkdown(line) + "\n")
		}
	}
	return sb.String()
}

func activityOverviewView(overview []tracker.CollectionActivity) (string, *tgbotapi.InlineKeyboardMarkup) {
	if len(overview) == 0 {
		return "You have no link collections yet\\. Use /newlinks to create one\\.", nil
	}

	var sb strings.Builder
	sb.WriteString("💬 *Activity*\n\n")
	summaries := make([]models.CollectionSummary, 0, len(overview))
	for _, o := range overview {
		sb.WriteString(fmt.Sprintf("• %s: %d messages\n", escapeMarkdown(o.DisplayName), o.Events))
		summaries = append(summaries, o.CollectionSummary)
	}
	return sb.String(), collectionButtons(summaries, cbActivity)
}

func activityReportText(r *tracker.ActivityReport, digest classifier.Digest) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💬 *%s*\n\n", escapeMarkdown(r.Collection.DisplayName)))
	sb.WriteString(fmt.Sprintf("Messages: %d\nActive users: %d\nChats watched: %d\n", r.Total, r.ActiveUsers, len(r.ChatIDs)))

	if len(digest.Topics) > 0 {
		sb.WriteString(fmt.Sprintf("\n*Topics:* %s\n", escapeMarkdown(strings.Join(digest.Topics, ", "))))
	}
	if digest.Summary != "" {
		sb.WriteString(fmt.Sprintf("*Summary:* %s\n", escapeMarkdown(digest.Summary)))
	}

	if len(r.Recent) > 0 {
		sb.WriteString("\n*Recent messages*\n")
		for _, ev := range r.Recent {
			who := "id " + strconv.FormatInt(ev.UserID, 10)
			if ev.Username != "" {
				who = "@" + ev.Username
			}
			where := ev.ChatTitle
			if where == "" {
				where = ev.ChatHandle
			}
			sb.WriteString("• " + escapeMarkdown(fmt.Sprintf("%s in %s: %s", who, where, preview(ev.MessageExcerpt))) + "\n")
		}
	}
	return sb.String()
}
