package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/link-tracker-bot/internal/classifier"
	"github.com/xaenox/link-tracker-bot/internal/models"
	"github.com/xaenox/link-tracker-bot/internal/session"
	"github.com/xaenox/link-tracker-bot/internal/storage"
	"github.com/xaenox/link-tracker-bot/internal/targets"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
	"go.uber.org/zap/zaptest"
)

const (
	ownerID    int64 = 100
	clickerID  int64 = 7
	strangerID int64 = 555
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	answers []tgbotapi.CallbackConfig
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answers = append(f.answers, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAPI) last(t *testing.T) tgbotapi.Chattable {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "nothing was sent")
	return f.sent[len(f.sent)-1]
}

// lastText returns the text of the last sent or edited message.
func (f *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	switch m := f.last(t).(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.EditMessageTextConfig:
		return m.Text
	default:
		t.Fatalf("last sent is %T, not a text message", m)
		return ""
	}
}

func (f *fakeAPI) lastMarkup(t *testing.T) tgbotapi.InlineKeyboardMarkup {
	t.Helper()
	switch m := f.last(t).(type) {
	case tgbotapi.MessageConfig:
		markup, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		require.True(t, ok, "message has no inline keyboard")
		return markup
	case tgbotapi.EditMessageTextConfig:
		require.NotNil(t, m.ReplyMarkup, "edit has no inline keyboard")
		return *m.ReplyMarkup
	default:
		t.Fatalf("last sent is %T, not a text message", m)
		return tgbotapi.InlineKeyboardMarkup{}
	}
}

func (f *fakeAPI) lastAnswer(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.answers, "no callback was answered")
	return f.answers[len(f.answers)-1].Text
}

func callbackDataOf(markup tgbotapi.InlineKeyboardMarkup) []string {
	var data []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				data = append(data, *btn.CallbackData)
			}
		}
	}
	return data
}

type fakeResolver map[string]targets.ResolvedChat

func (f fakeResolver) Resolve(_ context.Context, handle string) (*targets.ResolvedChat, error) {
	chat, ok := f[strings.ToLower(strings.TrimPrefix(handle, "@"))]
	if !ok {
		return nil, errors.New("chat not found")
	}
	return &chat, nil
}

type testEnv struct {
	bot       *Bot
	api       *fakeAPI
	engine    *tracker.Engine
	sessions  *session.MemoryStore
	directory *storage.DirectoryStore
}

func newTestEnv(t *testing.T, limiter *RateLimiter, codes ...string) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store, err := storage.NewStore(ctx, storage.DatabaseConfig{UseInMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	directory, err := storage.NewDirectoryStore(ctx, storage.DatabaseConfig{UseInMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { directory.Close() })

	resolver := fakeResolver{
		"mychannel": {ChatID: -1001, Handle: "mychannel", Kind: "supergroup"},
	}

	var opts []tracker.Option
	if len(codes) > 0 {
		opts = append(opts, tracker.WithCodeGenerator(func() (string, error) {
			if len(codes) == 0 {
				return "", errors.New("out of codes")
			}
			code := codes[0]
			codes = codes[1:]
			return code, nil
		}))
	}
	engine := tracker.New(store, resolver, logger, opts...)

	api := &fakeAPI{}
	sessions := session.NewMemoryStore(session.DefaultTTL)
	b := New(api, engine, directory, sessions, classifier.NewSimpleClassifier(3), limiter,
		Options{BotUsername: "@LinkTrackerBot", RecentLimit: 5}, logger)

	return &testEnv{bot: b, api: api, engine: engine, sessions: sessions, directory: directory}
}

func user(id int64) *tgbotapi.User {
	return &tgbotapi.User{ID: id, UserName: "user" + itemArg(id), FirstName: "User"}
}

func privateMessage(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      user(userID),
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		length := strings.IndexByte(text, ' ')
		if length < 0 {
			length = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-" + data,
		From: user(userID),
		Message: &tgbotapi.Message{
			MessageID: 42,
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		},
		Data: data,
	}}
}

func (env *testEnv) send(t *testing.T, update tgbotapi.Update) {
	t.Helper()
	env.bot.HandleUpdate(context.Background(), update)
}

func (env *testEnv) step(t *testing.T, userID int64) session.Step {
	t.Helper()
	state, err := env.sessions.Get(context.Background(), userID)
	require.NoError(t, err)
	return state.Step
}

func (env *testEnv) collectionWithChannel(t *testing.T, name string) *models.LinkCollection {
	t.Helper()
	ctx := context.Background()
	c, err := env.engine.CreateCollection(ctx, ownerID, name)
	require.NoError(t, err)
	_, err = env.engine.AddItem(ctx, ownerID, c.CollectionID, "Channel", "@mychannel")
	require.NoError(t, err)
	return c
}

func TestStart_DeepLink(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")
	require.Equal(t, "promo_links-a1b", c.CollectionID)

	env.send(t, privateMessage(clickerID, "/start promo_links-a1b-fb"))

	assert.Contains(t, env.api.lastText(t), "promo\\_links")
	markup := env.api.lastMarkup(t)
	require.Len(t, markup.InlineKeyboard, 1)
	btn := markup.InlineKeyboard[0][0]
	assert.Equal(t, "Channel", btn.Text)
	require.NotNil(t, btn.URL)
	assert.Equal(t, "https://t.me/mychannel", *btn.URL)

	report, err := env.engine.ClickReport(ctx, ownerID, c.CollectionID, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.TotalClicks)
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "fb", report.Sources[0].Source)

	u, err := env.directory.GetUser(ctx, clickerID)
	require.NoError(t, err)
	assert.Equal(t, "user7", u.Handle)
}

func TestStart_Errors(t *testing.T) {
	env := newTestEnv(t, nil, "b2c")
	_, err := env.engine.CreateCollection(context.Background(), ownerID, "empty_one")
	require.NoError(t, err)

	tests := []struct {
		text string
		want string
	}{
		{"/start nothing", "❌ Invalid link format."},
		{"/start ghost-zzz", "❌ Link not found or expired."},
		{"/start empty_one-b2c", "This link collection has no links yet."},
		{"/start", helpText},
		{"/frobnicate", "Unknown command. Use /help to see what I can do."},
	}

	for _, tt := range tests {
		env.send(t, privateMessage(clickerID, tt.text))
		assert.Equal(t, tt.want, env.api.lastText(t), tt.text)
	}
}

func TestNewLinksFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, "a1b")

	env.send(t, privateMessage(ownerID, "/newlinks"))
	assert.Equal(t, session.StepAwaitingName, env.step(t, ownerID))

	env.send(t, privateMessage(ownerID, "Summer Sale"))
	assert.Contains(t, env.api.lastText(t), "summer\\_sale")
	assert.Equal(t, session.StepConfirmName, env.step(t, ownerID))

	env.send(t, callbackUpdate(ownerID, "cn:"))
	summaries, err := env.engine.ListCollections(ctx, ownerID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "summer_sale", summaries[0].DisplayName)
	id := summaries[0].CollectionID
	assert.Equal(t, "summer_sale-a1b", id)
	assert.Contains(t, callbackDataOf(env.api.lastMarkup(t)), "a:"+id)

	env.send(t, callbackUpdate(ownerID, "a:"+id))
	assert.Equal(t, session.StepAwaitingItemName, env.step(t, ownerID))

	env.send(t, privateMessage(ownerID, "Main channel"))
	assert.Equal(t, session.StepAwaitingItemURL, env.step(t, ownerID))

	env.send(t, privateMessage(ownerID, "t.me/mychannel"))
	assert.Equal(t, session.StepManaging, env.step(t, ownerID))
	assert.Contains(t, env.api.lastText(t), "Main channel → https://t\\.me/mychannel")

	items, err := env.engine.Items(ctx, ownerID, id)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.TelegramTarget, items[0].Kind)

	activity, err := env.engine.ActivityReport(ctx, ownerID, id, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1001}, activity.ChatIDs)

	env.send(t, callbackUpdate(ownerID, "d:"+id))
	_, err = env.sessions.Get(ctx, ownerID)
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Contains(t, env.api.lastText(t), "https://t\\.me/LinkTrackerBot?start\\=summer\\_sale\\-a1b")

	env.api.mu.Lock()
	assert.Len(t, env.api.answers, 3)
	env.api.mu.Unlock()
}

func TestNewLinks_NameRules(t *testing.T) {
	env := newTestEnv(t, nil, "a1b", "c2d")

	env.send(t, privateMessage(ownerID, "/newlinks"))
	env.send(t, privateMessage(ownerID, "x"))
	assert.Equal(t, "❌ Name must be at least 2 characters.", env.api.lastText(t))

	env.send(t, privateMessage(ownerID, "!!"))
	assert.Equal(t, "❌ Cannot make a valid name from that. Please try again.", env.api.lastText(t))

	env.send(t, privateMessage(ownerID, "Promo"))
	assert.Equal(t, session.StepManaging, env.step(t, ownerID))

	env.send(t, privateMessage(ownerID, "/newlinks"))
	env.send(t, privateMessage(ownerID, "PROMO"))
	assert.Contains(t, env.api.lastText(t), "already have a collection named promo")
	assert.Equal(t, session.StepAwaitingName, env.step(t, ownerID))

	env.send(t, privateMessage(ownerID, "/cancel"))
	assert.Equal(t, "❌ Cancelled.", env.api.lastText(t))
	_, err := env.sessions.Get(context.Background(), ownerID)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestEditAndRemoveItem(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")

	items, err := env.engine.Items(ctx, ownerID, c.CollectionID)
	require.NoError(t, err)
	itemID := itemArg(items[0].ItemID)

	env.send(t, callbackUpdate(ownerID, "e:"+c.CollectionID))
	assert.Contains(t, callbackDataOf(env.api.lastMarkup(t)), "ie:"+itemID)

	env.send(t, callbackUpdate(ownerID, "in:"+itemID))
	assert.Equal(t, session.StepAwaitingEditName, env.step(t, ownerID))
	env.send(t, privateMessage(ownerID, "News"))

	env.send(t, callbackUpdate(ownerID, "iu:"+itemID))
	env.send(t, privateMessage(ownerID, "https://example.com/promo"))

	item, err := env.engine.Item(ctx, ownerID, items[0].ItemID)
	require.NoError(t, err)
	assert.Equal(t, "News", item.DisplayName)
	assert.Equal(t, "https://example.com/promo", item.TargetURL)
	assert.Equal(t, models.ExternalTarget, item.Kind)

	env.send(t, callbackUpdate(ownerID, "ir:"+itemID))
	assert.Equal(t, "🗑 Link deleted.", env.api.lastAnswer(t))
	items, err = env.engine.Items(ctx, ownerID, c.CollectionID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCallbacks_OwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")

	for _, data := range []string{"a:", "g:", "q:", "st:", "x:", "xy:"} {
		env.send(t, callbackUpdate(strangerID, data+c.CollectionID))
		assert.Equal(t, "⛔ This collection belongs to someone else.", env.api.lastAnswer(t), data)
	}

	_, err := env.engine.OwnedCollection(ctx, ownerID, c.CollectionID)
	assert.NoError(t, err)
	_, err = env.sessions.Get(ctx, strangerID)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestDeleteCollectionFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")

	env.send(t, privateMessage(ownerID, "/deletegroup"))
	assert.Equal(t, []string{"x:" + c.CollectionID}, callbackDataOf(env.api.lastMarkup(t)))

	env.send(t, callbackUpdate(ownerID, "x:"+c.CollectionID))
	assert.Contains(t, env.api.lastText(t), "Delete *promo\\_links*")

	env.send(t, callbackUpdate(ownerID, "xy:"+c.CollectionID))
	assert.Equal(t, "🗑 Collection deleted\\.", env.api.lastText(t))

	summaries, err := env.engine.ListCollections(ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestMyLinksAndReports(t *testing.T) {
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")
	env.send(t, privateMessage(clickerID, "/start promo_links-a1b-fb"))

	env.send(t, privateMessage(ownerID, "/mylinks"))
	assert.Contains(t, env.api.lastText(t), "promo\\_links \\(1 clicks, 1 links\\)")

	env.send(t, callbackUpdate(ownerID, "st:"+c.CollectionID))
	text := env.api.lastText(t)
	assert.Contains(t, text, "Total clicks: 1")
	assert.Contains(t, text, "• fb: 1 clicks, 1 users")
	assert.Contains(t, text, "@user7 via fb")

	env.send(t, privateMessage(ownerID, "/activity"))
	assert.Contains(t, env.api.lastText(t), "promo\\_links: 0 messages")
}

func TestQRCode(t *testing.T) {
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")

	env.send(t, callbackUpdate(ownerID, "q:"+c.CollectionID))

	photo, ok := env.api.last(t).(tgbotapi.PhotoConfig)
	require.True(t, ok)
	assert.Contains(t, photo.Caption, "https://t.me/LinkTrackerBot?start=promo_links-a1b")
	file, ok := photo.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.NotEmpty(t, file.Bytes)
	assert.Equal(t, "", env.api.lastAnswer(t))
}

func TestGroupMonitoring(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, "a1b")
	c := env.collectionWithChannel(t, "promo_links")
	env.send(t, privateMessage(clickerID, "/start promo_links-a1b"))
	sent := env.api.count()

	group := &tgbotapi.Chat{ID: -1001, Type: "supergroup", Title: "My Channel Chat", UserName: "mychannel"}
	env.send(t, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 55,
		From:      user(clickerID),
		Chat:      group,
		Text:      "hello from the promo",
	}})
	env.send(t, tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 56,
		From:      user(strangerID),
		Chat:      group,
		Text:      "I never clicked",
	}})

	assert.Equal(t, sent, env.api.count(), "group messages get no reply")

	report, err := env.engine.ActivityReport(ctx, ownerID, c.CollectionID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Total)
	require.Len(t, report.Recent, 1)
	assert.Equal(t, "hello from the promo", report.Recent[0].MessageExcerpt)
	assert.Equal(t, 55, report.Recent[0].MessageRef)

	chat, err := env.directory.GetChat(ctx, -1001)
	require.NoError(t, err)
	assert.Equal(t, "My Channel Chat", chat.Title)
	member, err := env.directory.GetMember(ctx, -1001, strangerID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), member.MessageCount)
}

func TestRateLimitedMessagesAreDropped(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	env := newTestEnv(t, limiter)

	env.send(t, privateMessage(ownerID, "/help"))
	env.send(t, privateMessage(ownerID, "/help"))
	assert.Equal(t, 1, env.api.count())

	env.send(t, callbackUpdate(ownerID, "m:"))
	assert.Equal(t, "⏳ Too many requests, please slow down.", env.api.lastAnswer(t))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, BurstSize: 2, CleanupInterval: time.Minute})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1))
	assert.True(t, rl.Allow(2))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow(1))

	now = now.Add(10 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestStartStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, NewRateLimiter(DefaultRateLimiterConfig))
	updates := make(chan tgbotapi.Update, 1)
	updates <- privateMessage(ownerID, "/help")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.bot.Start(ctx, updates) }()

	require.Eventually(t, func() bool { return env.api.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestToChatMessage(t *testing.T) {
	ev := toChatMessage(&tgbotapi.Message{
		MessageID:      9,
		From:           &tgbotapi.User{ID: 7, UserName: "alice", LanguageCode: "en"},
		Chat:           &tgbotapi.Chat{ID: -1001, Type: "supergroup", UserName: "mychannel"},
		Caption:        "photo caption",
		ReplyToMessage: &tgbotapi.Message{MessageID: 3, ForwardFromMessageID: 77},
	})

	assert.Equal(t, "photo caption", ev.Text)
	assert.Equal(t, 9, ev.MessageRef)
	assert.Equal(t, 77, ev.ReplyOriginPostRef)
	assert.Equal(t, "en", ev.Sender.Locale)
	assert.Equal(t, models.ChatDescriptor{ID: -1001, Kind: "supergroup", Handle: "mychannel"}, ev.Chat)
}

func TestSuggestName(t *testing.T) {
	assert.Equal(t, "black_friday_2024", suggestName("Black Friday 2024"))
	assert.Equal(t, "hllo_wrld", suggestName("héllo wörld"))
	assert.Equal(t, "", suggestName("!!"))
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "promo\\_links\\-a1b\\.", escapeMarkdown("promo_links-a1b."))
	assert.Equal(t, "\\(1\\) \\*bold\\*", escapeMarkdown("(1) *bold*"))
}
