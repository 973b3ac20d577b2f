package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/link-tracker-bot/internal/models"
)

func toUserProfile(u *tgbotapi.User) models.UserProfile {
	if u == nil {
		return models.UserProfile{}
	}
	return models.UserProfile{
		ID:          u.ID,
		Handle:      u.UserName,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Locale:      u.LanguageCode,
		IsAutomated: u.IsBot,
	}
}

func toChatDescriptor(c *tgbotapi.Chat) models.ChatDescriptor {
	if c == nil {
		return models.ChatDescriptor{}
	}
	return models.ChatDescriptor{
		ID:          c.ID,
		Kind:        c.Type,
		Title:       c.Title,
		Handle:      c.UserName,
		Description: c.Description,
	}
}

// toChatMessage converts a group message. Captions stand in for text on
// media posts; a reply to a forwarded channel post carries that post's id.
func toChatMessage(msg *tgbotapi.Message) models.ChatMessageReceived {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	ev := models.ChatMessageReceived{
		Sender:     toUserProfile(msg.From),
		Chat:       toChatDescriptor(msg.Chat),
		Text:       text,
		MessageRef: msg.MessageID,
	}
	if reply := msg.ReplyToMessage; reply != nil {
		ev.ReplyOriginPostRef = reply.ForwardFromMessageID
	}
	return ev
}
