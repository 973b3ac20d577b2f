package targets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

var ErrEmptyHandle = errors.New("empty telegram handle")

// ResolvedChat is the identity of a Telegram chat behind a handle. For
// channels LinkedChatID is the attached discussion group, if any.
type ResolvedChat struct {
	ChatID       int64
	Handle       string
	Kind         string
	LinkedChatID int64
	LinkedHandle string
}

// ActivityChat returns the chat where members talk: the discussion group of
// a channel, or the chat itself otherwise. ok is false for channels without a
// discussion group.
func (c ResolvedChat) ActivityChat() (chatID int64, handle string, ok bool) {
	if c.Kind == "channel" {
		return c.LinkedChatID, c.LinkedHandle, c.LinkedChatID != 0
	}
	return c.ChatID, c.Handle, c.ChatID != 0
}

// ChatIDs lists every known chat id of the target.
func (c ResolvedChat) ChatIDs() []int64 {
	ids := []int64{c.ChatID}
	if c.LinkedChatID != 0 {
		ids = append(ids, c.LinkedChatID)
	}
	return ids
}

type ChatResolver interface {
	Resolve(ctx context.Context, handle string) (*ResolvedChat, error)
}

// ChatGetter is the part of the Bot API the resolver needs.
type ChatGetter interface {
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	TTL         time.Duration
}

// TelegramResolver looks chats up through the Bot API and caches the result.
type TelegramResolver struct {
	api    ChatGetter
	cache  *ristretto.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewTelegramResolver(api ChatGetter, config CacheConfig, logger *zap.Logger) (*TelegramResolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating chat cache: %w", err)
	}

	return &TelegramResolver{
		api:    api,
		cache:  cache,
		ttl:    config.TTL,
		logger: logger,
	}, nil
}

func (r *TelegramResolver) Resolve(ctx context.Context, handle string) (*ResolvedChat, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, ErrEmptyHandle
	}

	key := strings.ToLower(handle)
	if v, ok := r.cache.Get(key); ok {
		chat := v.(ResolvedChat)
		return &chat, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chat, err := r.api.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + handle},
	})
	if err != nil {
		return nil, fmt.Errorf("error getting chat @%s: %w", handle, err)
	}

	resolved := ResolvedChat{
		ChatID:       chat.ID,
		Handle:       chat.UserName,
		Kind:         chat.Type,
		LinkedChatID: chat.LinkedChatID,
	}

	if chat.LinkedChatID != 0 {
		linked, err := r.api.GetChat(tgbotapi.ChatInfoConfig{
			ChatConfig: tgbotapi.ChatConfig{ChatID: chat.LinkedChatID},
		})
		if err != nil {
			r.logger.Warn("Failed to get linked chat",
				zap.String("handle", handle),
				zap.Int64("linked_chat_id", chat.LinkedChatID),
				zap.Error(err))
		} else {
			resolved.LinkedHandle = linked.UserName
		}
	}

	r.cache.SetWithTTL(key, resolved, 1, r.ttl)
	r.cache.Wait()

	return &resolved, nil
}

func (r *TelegramResolver) Close() {
	r.cache.Close()
}
