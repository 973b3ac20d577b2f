package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/xaenox/link-tracker-bot/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicateName    = errors.New("collection name already exists for owner")
	ErrCollectionExists = errors.New("collection id already exists")
)

// Error wraps a failure of the underlying datastore.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// CollectionStore persists collections and their items. It performs no
// ownership checks; callers authorize before mutating.
type CollectionStore interface {
	CreateCollection(ctx context.Context, ownerID int64, name, code string) (*models.LinkCollection, error)
	GetCollection(ctx context.Context, collectionID string) (*models.LinkCollection, error)
	ListCollectionsByOwner(ctx context.Context, ownerID int64) ([]models.CollectionSummary, error)
	DeleteCollection(ctx context.Context, collectionID string) (bool, error)
	IncrementClicks(ctx context.Context, collectionID string) error

	AddItem(ctx context.Context, item *models.LinkItem) error
	GetItem(ctx context.Context, itemID int64) (*models.LinkItem, error)
	ListItems(ctx context.Context, collectionID string) ([]models.LinkItem, error)
	UpdateItem(ctx context.Context, itemID int64, update models.ItemUpdate) (bool, error)
	DeleteItem(ctx context.Context, itemID int64) (bool, error)
}

// AttributionStore is the append-only log of clicks and chat activity.
type AttributionStore interface {
	RecordClick(ctx context.Context, click *models.ClickEvent) error
	RecordActivity(ctx context.Context, activity *models.ActivityEvent) error
	ClicksByCollection(ctx context.Context, collectionID string) iter.Seq2[models.ClickEvent, error]
	UniqueClickers(ctx context.Context, collectionID string) ([]models.UniqueClicker, error)
	SourceBreakdown(ctx context.Context, collectionID string) ([]models.SourceStat, error)
	Activity(ctx context.Context, query models.ActivityQuery) iter.Seq2[models.ActivityEvent, error]
	CountActivity(ctx context.Context, query models.ActivityQuery, userID int64) (int64, error)
}

// TargetDirectory maps telegram items to resolved chats.
type TargetDirectory interface {
	UpsertTarget(ctx context.Context, target models.TargetResolution) error
	ListTargets(ctx context.Context, collectionID string) ([]models.TargetResolution, error)
	CollectionsForChatEvent(ctx context.Context, userID int64, chatHandle string, chatID int64) ([]models.AttributionMatch, error)
}

// UserDirectory records users, chats and members seen by the bot.
type UserDirectory interface {
	TouchUser(ctx context.Context, user models.UserProfile) error
	GetUser(ctx context.Context, userID int64) (*models.DirectoryUser, error)
	SaveChat(ctx context.Context, chat models.ChatDescriptor) error
	GetChat(ctx context.Context, chatID int64) (*models.DirectoryChat, error)
	TouchMember(ctx context.Context, chatID int64, user models.UserProfile) error
	GetMember(ctx context.Context, chatID, userID int64) (*models.DirectoryMember, error)
	Close() error
}
