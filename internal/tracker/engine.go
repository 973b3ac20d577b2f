// Package tracker resolves deep links to link collections and attributes
// clicks and chat activity back to them.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/link-tracker-bot/internal/deeplink"
	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/storage"
	"github.com/xaenox/link-tracker-bot/internal/targets"
	"go.uber.org/zap"
)

const maxCodeAttempts = 5

var (
	ErrNotFound        = storage.ErrNotFound
	ErrDuplicateName   = storage.ErrDuplicateName
	ErrAccessDenied    = errors.New("access denied")
	ErrEmptyCollection = errors.New("collection has no links")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidTarget   = errors.New("invalid link target")
)

// Store is everything the engine persists through.
type Store interface {
	storage.CollectionStore
	storage.AttributionStore
	storage.TargetDirectory
}

type Option func(*Engine)

// WithCodeGenerator replaces the random collection code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(e *Engine) {
		e.newCode = gen
	}
}

type Engine struct {
	collections storage.CollectionStore
	attribution storage.AttributionStore
	targets     storage.TargetDirectory
	resolver    targets.ChatResolver
	logger      *zap.Logger
	newCode     func() (string, error)
}

// New builds an engine. resolver may be nil, in which case telegram targets
// are stored without a resolved chat.
func New(store Store, resolver targets.ChatResolver, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		collections: store,
		attribution: store,
		targets:     store,
		resolver:    resolver,
		logger:      logger,
		newCode:     deeplink.NewCode,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolution is what a deep link opens.
type Resolution struct {
	Collection *models.LinkCollection
	Items      []models.LinkItem
	Ref        deeplink.Ref
}

// ResolveDeeplink decodes the payload, loads the collection and records the
// click with the decoded source. Empty collections are reported without
// recording a click.
func (e *Engine) ResolveDeeplink(ctx context.Context, ev models.ClickRequested) (*Resolution, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	ref, err := deeplink.Decode(ev.Payload)
	if err != nil {
		return nil, err
	}

	c, err := e.collections.GetCollection(ctx, ref.CollectionID)
	if err != nil {
		return nil, err
	}

	items, err := e.collections.ListItems(ctx, c.CollectionID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCollection
	}

	click := &models.ClickEvent{
		CollectionID: c.CollectionID,
		Source:       ref.Source,
		Clicker:      ev.Clicker,
	}
	if err := e.attribution.RecordClick(ctx, click); err != nil {
		return nil, fmt.Errorf("error recording click: %w", err)
	}
	c.ClickCount++

	return &Resolution{Collection: c, Items: items, Ref: ref}, nil
}

// AttributeChatEvent records one activity event per collection the sender
// clicked through whose target is this chat. It returns how many were
// recorded.
func (e *Engine) AttributeChatEvent(ctx context.Context, ev models.ChatMessageReceived) (int, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	if ev.Chat.ID == 0 && ev.Chat.Handle == "" {
		return 0, nil
	}
	if strings.TrimSpace(ev.Text) == "" {
		return 0, nil
	}

	matches, err := e.targets.CollectionsForChatEvent(ctx, ev.Sender.ID, ev.Chat.Handle, ev.Chat.ID)
	if err != nil {
		return 0, err
	}

	recorded := 0
	for _, m := range matches {
		activity := &models.ActivityEvent{
			UserID:         ev.Sender.ID,
			Username:       ev.Sender.Handle,
			ChatID:         ev.Chat.ID,
			ChatTitle:      ev.Chat.Title,
			ChatHandle:     ev.Chat.Handle,
			CollectionID:   m.CollectionID,
			Code:           m.Code,
			MessageExcerpt: ev.Text,
			MessageRef:     ev.MessageRef,
			LinkedPostRef:  ev.ReplyOriginPostRef,
		}
		if err := e.attribution.RecordActivity(ctx, activity); err != nil {
			return recorded, fmt.Errorf("error recording activity for %s: %w", m.CollectionID, err)
		}
		recorded++
	}
	return recorded, nil
}

// RequireOwner is the single ownership check applied before any change to a
// collection or its items.
func RequireOwner(c *models.LinkCollection, actorID int64) error {
	if c == nil {
		return ErrNotFound
	}
	if c.OwnerID != actorID {
		return ErrAccessDenied
	}
	return nil
}

// OwnedCollection loads a collection on behalf of actorID.
func (e *Engine) OwnedCollection(ctx context.Context, actorID int64, collectionID string) (*models.LinkCollection, error) {
	c, err := e.collections.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if err := RequireOwner(c, actorID); err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCollection creates a collection under a fresh code, retrying when the
// generated id is already taken.
func (e *Engine) CreateCollection(ctx context.Context, ownerID int64, name string) (*models.LinkCollection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := e.newCode()
		if err != nil {
			return nil, fmt.Errorf("error generating code: %w", err)
		}

		c, err := e.collections.CreateCollection(ctx, ownerID, name, code)
		if errors.Is(err, storage.ErrCollectionExists) {
			e.logger.Debug("Collection id taken, retrying",
				zap.String("code", code),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		e.logger.Info("Collection created",
			zap.Int64("owner_id", ownerID),
			zap.String("collection_id", c.CollectionID))
		return c, nil
	}
	return nil, fmt.Errorf("no free collection id after %d attempts", maxCodeAttempts)
}

func (e *Engine) ListCollections(ctx context.Context, ownerID int64) ([]models.CollectionSummary, error) {
	return e.collections.ListCollectionsByOwner(ctx, ownerID)
}

// DeleteCollection removes an owned collection and everything recorded for
// it. It reports false when the collection does not exist.
func (e *Engine) DeleteCollection(ctx context.Context, actorID int64, collectionID string) (bool, error) {
	if _, err := e.OwnedCollection(ctx, actorID, collectionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	deleted, err := e.collections.DeleteCollection(ctx, collectionID)
	if err != nil {
		return false, err
	}
	if deleted {
		e.logger.Info("Collection deleted",
			zap.Int64("owner_id", actorID),
			zap.String("collection_id", collectionID))
	}
	return deleted, nil
}

// Items lists an owned collection's items in display order.
func (e *Engine) Items(ctx context.Context, actorID int64, collectionID string) ([]models.LinkItem, error) {
	if _, err := e.OwnedCollection(ctx, actorID, collectionID); err != nil {
		return nil, err
	}
	return e.collections.ListItems(ctx, collectionID)
}

// Item loads an item of a collection owned by actorID.
func (e *Engine) Item(ctx context.Context, actorID, itemID int64) (*models.LinkItem, error) {
	item, err := e.collections.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if _, err := e.OwnedCollection(ctx, actorID, item.CollectionID); err != nil {
		return nil, err
	}
	return item, nil
}

// AddItem appends a link to an owned collection. Telegram targets are
// resolved to their activity chat; resolution failures only get logged.
func (e *Engine) AddItem(ctx context.Context, actorID int64, collectionID, name, rawURL string) (*models.LinkItem, error) {
	if _, err := e.OwnedCollection(ctx, actorID, collectionID); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	target := targets.Classify(rawURL)
	if target.URL == "" {
		return nil, ErrInvalidTarget
	}

	item := &models.LinkItem{
		CollectionID: collectionID,
		DisplayName:  name,
		TargetURL:    target.URL,
		Kind:         target.Kind,
		Platform:     target.Platform,
	}
	if err := e.collections.AddItem(ctx, item); err != nil {
		return nil, err
	}

	if item.Kind == models.TelegramTarget {
		e.resolveTarget(ctx, collectionID, item.TargetURL)
	}
	return item, nil
}

// ItemEdit names the fields to change; nil leaves a field as is.
type ItemEdit struct {
	Name *string
	URL  *string
}

func (e *Engine) UpdateItem(ctx context.Context, actorID, itemID int64, edit ItemEdit) (*models.LinkItem, error) {
	item, err := e.Item(ctx, actorID, itemID)
	if err != nil {
		return nil, err
	}

	var update models.ItemUpdate
	if edit.Name != nil {
		name := strings.TrimSpace(*edit.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		update.DisplayName = &name
	}
	if edit.URL != nil {
		target := targets.Classify(*edit.URL)
		if target.URL == "" {
			return nil, ErrInvalidTarget
		}
		update.Target = &target
	}

	updated, err := e.collections.UpdateItem(ctx, itemID, update)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, ErrNotFound
	}

	if update.Target != nil && update.Target.Kind == models.TelegramTarget {
		e.resolveTarget(ctx, item.CollectionID, update.Target.URL)
	}
	return e.collections.GetItem(ctx, itemID)
}

// DeleteItem removes an item from an owned collection. It reports false when
// the item does not exist.
func (e *Engine) DeleteItem(ctx context.Context, actorID, itemID int64) (bool, error) {
	if _, err := e.Item(ctx, actorID, itemID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return e.collections.DeleteItem(ctx, itemID)
}

func (e *Engine) resolveTarget(ctx context.Context, collectionID, handle string) {
	if e.resolver == nil {
		return
	}

	chat, err := e.resolver.Resolve(ctx, handle)
	if err != nil {
		e.logger.Warn("Failed to resolve target chat",
			zap.String("collection_id", collectionID),
			zap.String("handle", handle),
			zap.Error(err))
		return
	}

	chatID, chatHandle, ok := chat.ActivityChat()
	if !ok {
		e.logger.Info("Target has no discussion chat",
			zap.String("collection_id", collectionID),
			zap.String("handle", handle))
		return
	}

	err = e.targets.UpsertTarget(ctx, models.TargetResolution{
		CollectionID:   collectionID,
		SourceHandle:   handle,
		ResolvedChatID: chatID,
		ResolvedHandle: chatHandle,
	})
	if err != nil {
		e.logger.Error("Failed to save target resolution",
			zap.String("collection_id", collectionID),
			zap.String("handle", handle),
			zap.Error(err))
	}
}
