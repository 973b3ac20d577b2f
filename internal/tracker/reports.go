package tracker

import (
	"context"
	"slices"

	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/targets"
	"go.uber.org/zap"
)

const defaultRecentLimit = 10

type ClickReport struct {
	Collection  *models.LinkCollection
	TotalClicks int64
	Clickers    []models.UniqueClicker
	Sources     []models.SourceStat
	Recent      []models.ClickEvent
}

// ClickReport summarises clicks on an owned collection.
func (e *Engine) ClickReport(ctx context.Context, actorID int64, collectionID string, recentLimit int) (*ClickReport, error) {
	c, err := e.OwnedCollection(ctx, actorID, collectionID)
	if err != nil {
		return nil, err
	}
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}

	report := &ClickReport{Collection: c, TotalClicks: c.ClickCount}

	for click, err := range e.attribution.ClicksByCollection(ctx, collectionID) {
		if err != nil {
			return nil, err
		}
		report.Recent = append(report.Recent, click)
		if len(report.Recent) == recentLimit {
			break
		}
	}

	if report.Clickers, err = e.attribution.UniqueClickers(ctx, collectionID); err != nil {
		return nil, err
	}
	if report.Sources, err = e.attribution.SourceBreakdown(ctx, collectionID); err != nil {
		return nil, err
	}
	return report, nil
}

type ActivityReport struct {
	Collection  *models.LinkCollection
	ChatIDs     []int64
	Total       int64
	ActiveUsers int
	Recent      []models.ActivityEvent
}

// CollectionActivity is one line of the activity overview.
type CollectionActivity struct {
	models.CollectionSummary
	Events int64
}

// ActivityOverview counts activity for each of the owner's collections using
// the stored target resolutions only.
func (e *Engine) ActivityOverview(ctx context.Context, ownerID int64) ([]CollectionActivity, error) {
	summaries, err := e.collections.ListCollectionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	overview := make([]CollectionActivity, 0, len(summaries))
	for _, sum := range summaries {
		chatIDs, err := e.storedChatIDs(ctx, sum.CollectionID)
		if err != nil {
			return nil, err
		}
		n, err := e.attribution.CountActivity(ctx, models.ActivityQuery{
			CollectionID: sum.CollectionID,
			Code:         sum.Code,
			ChatIDs:      chatIDs,
		}, 0)
		if err != nil {
			return nil, err
		}
		overview = append(overview, CollectionActivity{CollectionSummary: sum, Events: n})
	}
	return overview, nil
}

// ActivityReport gathers activity for an owned collection. Besides events
// attributed to it directly, events carrying its code in any chat behind its
// telegram items are included; those chats are looked up live when a
// resolver is configured.
func (e *Engine) ActivityReport(ctx context.Context, actorID int64, collectionID string, recentLimit int) (*ActivityReport, error) {
	c, err := e.OwnedCollection(ctx, actorID, collectionID)
	if err != nil {
		return nil, err
	}
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}

	chatIDs, err := e.storedChatIDs(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	live, err := e.liveChatIDs(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	chatIDs = append(chatIDs, live...)
	slices.Sort(chatIDs)
	chatIDs = slices.Compact(chatIDs)

	query := models.ActivityQuery{CollectionID: collectionID, Code: c.Code, ChatIDs: chatIDs}
	report := &ActivityReport{Collection: c, ChatIDs: chatIDs}

	if report.Total, err = e.attribution.CountActivity(ctx, query, 0); err != nil {
		return nil, err
	}

	users := make(map[int64]struct{})
	for ev, err := range e.attribution.Activity(ctx, query) {
		if err != nil {
			return nil, err
		}
		users[ev.UserID] = struct{}{}
		if len(report.Recent) < recentLimit {
			report.Recent = append(report.Recent, ev)
		}
	}
	report.ActiveUsers = len(users)

	return report, nil
}

func (e *Engine) storedChatIDs(ctx context.Context, collectionID string) ([]int64, error) {
	resolutions, err := e.targets.ListTargets(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, r := range resolutions {
		if r.ResolvedChatID != 0 {
			ids = append(ids, r.ResolvedChatID)
		}
	}
	return ids, nil
}

func (e *Engine) liveChatIDs(ctx context.Context, collectionID string) ([]int64, error) {
	if e.resolver == nil {
		return nil, nil
	}

	items, err := e.collections.ListItems(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, item := range items {
		if item.Kind != models.TelegramTarget {
			continue
		}
		handle, ok := targets.HandleFromURL(item.TargetURL)
		if !ok {
			continue
		}
		chat, err := e.resolver.Resolve(ctx, handle)
		if err != nil {
			e.logger.Debug("Skipping unresolvable target",
				zap.String("collection_id", collectionID),
				zap.String("handle", handle),
				zap.Error(err))
			continue
		}
		ids = append(ids, chat.ChatIDs()...)
	}
	return ids, nil
}
