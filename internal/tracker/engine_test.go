package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/link-tracker-bot/internal/deeplink"
	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/storage"
	"github.com/xaenox/link-tracker-bot/internal/targets"
	"go.uber.org/zap/zaptest"
)

type fakeResolver map[string]targets.ResolvedChat

func (f fakeResolver) Resolve(_ context.Context, handle string) (*targets.ResolvedChat, error) {
	chat, ok := f[strings.ToLower(strings.TrimPrefix(handle, "@"))]
	if !ok {
		return nil, errors.New("chat not found")
	}
	return &chat, nil
}

func fixedCodes(codes ...string) func() (string, error) {
	return func() (string, error) {
		if len(codes) == 0 {
			return "", errors.New("out of codes")
		}
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}
}

func newTestEngine(t *testing.T, resolver targets.ChatResolver, codes ...string) *Engine {
	t.Helper()
	store, err := storage.NewStore(context.Background(), storage.DatabaseConfig{UseInMemory: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var opts []Option
	if len(codes) > 0 {
		opts = append(opts, WithCodeGenerator(fixedCodes(codes...)))
	}
	return New(store, resolver, zaptest.NewLogger(t), opts...)
}

var (
	owner   = models.UserProfile{ID: 100, Handle: "owner"}
	clicker = models.UserProfile{ID: 7, Handle: "alice", FirstName: "Alice"}
)

func TestPromoLinksScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, "a1b")

	c, err := e.CreateCollection(ctx, owner.ID, "promo_links")
	require.NoError(t, err)
	require.Equal(t, "promo_links-a1b", c.CollectionID)

	item, err := e.AddItem(ctx, owner.ID, c.CollectionID, "Join", "mychannel")
	require.NoError(t, err)
	assert.Equal(t, models.TelegramTarget, item.Kind)

	res, err := e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "promo_links-a1b", Clicker: clicker})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Join", res.Items[0].DisplayName)
	assert.Equal(t, "", res.Ref.Source)
	assert.Equal(t, int64(1), res.Collection.ClickCount)

	res, err = e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "promo_links-a1b-fb", Clicker: clicker})
	require.NoError(t, err)
	assert.Equal(t, "fb", res.Ref.Source)

	report, err := e.ClickReport(ctx, owner.ID, c.CollectionID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.TotalClicks)
	require.Len(t, report.Recent, 2)
	assert.Equal(t, "fb", report.Recent[0].Source)
	assert.Equal(t, "", report.Recent[1].Source)
	assert.Len(t, report.Clickers, 1)
	assert.Len(t, report.Sources, 2)
}

func TestCreateCollection_DuplicateName(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, "a1b", "c2d")

	_, err := e.CreateCollection(ctx, owner.ID, "promo_links")
	require.NoError(t, err)

	_, err = e.CreateCollection(ctx, owner.ID, "promo_links")
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestCreateCollection_RetriesTakenCode(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, "a1b", "a1b", "x9z")

	_, err := e.CreateCollection(ctx, owner.ID, "promo")
	require.NoError(t, err)

	c, err := e.CreateCollection(ctx, 200, "promo")
	require.NoError(t, err)
	assert.Equal(t, "promo-x9z", c.CollectionID)
}

func TestCreateCollection_InvalidName(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.CreateCollection(context.Background(), owner.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestResolveDeeplink_Errors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, "a1b")

	_, err := e.CreateCollection(ctx, owner.ID, "promo")
	require.NoError(t, err)

	_, err = e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "promo", Clicker: clicker})
	assert.ErrorIs(t, err, deeplink.ErrInvalidPayload)

	_, err = e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "gone-zzz", Clicker: clicker})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "promo-a1b", Clicker: clicker})
	assert.ErrorIs(t, err, ErrEmptyCollection)

	_, err = e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "promo-a1b"})
	assert.ErrorIs(t, err, models.ErrInvalidEvent)

	c, err := e.OwnedCollection(ctx, owner.ID, "promo-a1b")
	require.NoError(t, err)
	assert.Zero(t, c.ClickCount, "empty collections record no clicks")
}

func TestOwnershipChecks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, "a1b")
	const intruder = 999

	c, err := e.CreateCollection(ctx, owner.ID, "promo")
	require.NoError(t, err)
	item, err := e.AddItem(ctx, owner.ID, c.CollectionID, "Join", "mychannel")
	require.NoError(t, err)

	_, err = e.AddItem(ctx, intruder, c.CollectionID, "Spam", "spam")
	assert.ErrorIs(t, err, ErrAccessDenied)

	name := "Hacked"
	_, err = e.UpdateItem(ctx, intruder, item.ItemID, ItemEdit{Name: &name})
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.DeleteItem(ctx, intruder, item.ItemID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.DeleteCollection(ctx, intruder, c.CollectionID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.ClickReport(ctx, intruder, c.CollectionID, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = e.ActivityReport(ctx, intruder, c.CollectionID, 0)
	assert.ErrorIs(t, err, ErrAccessDenied)

	assert.ErrorIs(t, RequireOwner(nil, owner.ID), ErrNotFound)
	assert.NoError(t, RequireOwner(c, owner.ID))
}

func TestItemLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, "a1b")

	c, err := e.CreateCollection(ctx, owner.ID, "promo")
	require.NoError(t, err)

	item, err := e.AddItem(ctx, owner.ID, c.CollectionID, "Site", "example.org")
	require.NoError(t, err)

	_, err = e.AddItem(ctx, owner.ID, c.CollectionID, "Empty", "  ")
	assert.ErrorIs(t, err, ErrInvalidTarget)

	url := "x.com/promo"
	updated, err := e.UpdateItem(ctx, owner.ID, item.ItemID, ItemEdit{URL: &url})
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/promo", updated.TargetURL)
	assert.Equal(t, "x", updated.Platform)

	deleted, err := e.DeleteItem(ctx, owner.ID, item.ItemID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = e.DeleteItem(ctx, owner.ID, item.ItemID)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = e.DeleteCollection(ctx, owner.ID, c.CollectionID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = e.DeleteCollection(ctx, owner.ID, c.CollectionID)
	require.NoError(t, err)
	assert.False(t, deleted)

	list, err := e.ListCollections(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func channelResolver() fakeResolver {
	return fakeResolver{
		"mychannel": {ChatID: -1001, Handle: "mychannel", Kind: "channel", LinkedChatID: -1002, LinkedHandle: "mychannel_chat"},
		"lonely":    {ChatID: -1003, Handle: "lonely", Kind: "channel"},
	}
}

func TestAttributeChatEvent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, channelResolver(), "a1b")

	c, err := e.CreateCollection(ctx, owner.ID, "promo")
	require.NoError(t, err)
	_, err = e.AddItem(ctx, owner.ID, c.CollectionID, "Join", "https://t.me/mychannel")
	require.NoError(t, err)
	_, err = e.AddItem(ctx, owner.ID, c.CollectionID, "Other", "@lonely")
	require.NoError(t, err)

	discussion := models.ChatDescriptor{ID: -1002, Kind: "supergroup", Title: "My Channel Chat", Handle: "mychannel_chat"}
	message := models.ChatMessageReceived{
		Sender:             clicker,
		Chat:               discussion,
		Text:               "great post",
		MessageRef:         31,
		ReplyOriginPostRef: 12,
	}

	n, err := e.AttributeChatEvent(ctx, message)
	require.NoError(t, err)
	assert.Zero(t, n, "no click yet, nothing to attribute")

	_, err = e.ResolveDeeplink(ctx, models.ClickRequested{Payload: "promo-a1b-insta", Clicker: clicker})
	require.NoError(t, err)

	n, err = e.AttributeChatEvent(ctx, message)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byHandle := message
	byHandle.Chat = models.ChatDescriptor{Handle: "@MyChannel_Chat"}
	n, err = e.AttributeChatEvent(ctx, byHandle)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stranger := message
	stranger.Sender = models.UserProfile{ID: 8}
	n, err = e.AttributeChatEvent(ctx, stranger)
	require.NoError(t, err)
	assert.Zero(t, n)

	noKey := message
	noKey.Chat = models.ChatDescriptor{Title: "anonymous"}
	n, err = e.AttributeChatEvent(ctx, noKey)
	require.NoError(t, err)
	assert.Zero(t, n)

	silent := message
	silent.Text = "  "
	n, err = e.AttributeChatEvent(ctx, silent)
	require.NoError(t, err)
	assert.Zero(t, n)

	report, err := e.ActivityReport(ctx, owner.ID, c.CollectionID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Total)
	assert.Equal(t, 1, report.ActiveUsers)
	assert.Equal(t, []int64{-1003, -1002, -1001}, report.ChatIDs)
	require.Len(t, report.Recent, 1)
	assert.Equal(t, 12, report.Recent[0].LinkedPostRef)
	assert.Equal(t, "great post", report.Recent[0].MessageExcerpt)

	overview, err := e.ActivityOverview(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, overview, 1)
	assert.Equal(t, int64(2), overview[0].Events)
	assert.Equal(t, 2, overview[0].ItemCount)
}

func TestAddItem_UnresolvableTargetStillAdded(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, channelResolver(), "a1b")

	c, err := e.CreateCollection(ctx, owner.ID, "promo")
	require.NoError(t, err)

	item, err := e.AddItem(ctx, owner.ID, c.CollectionID, "Private", "privatechan")
	require.NoError(t, err)
	assert.NotZero(t, item.ItemID)
}
