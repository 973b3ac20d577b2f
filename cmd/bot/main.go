package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/xaenox/link-tracker-bot/internal/bot"
	"github.com/xaenox/link-tracker-bot/internal/classifier"
	"github.com/xaenox/link-tracker-bot/internal/session"
	"github.com/xaenox/link-tracker-bot/internal/storage"
	"github.com/xaenox/link-tracker-bot/internal/targets"
	"github.com/xaenox/link-tracker-bot/internal/tracker"
	"github.com/xaenox/link-tracker-bot/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}
	return zapConfig.Build()
}

func storageConfig(db config.DatabaseConfig) storage.DatabaseConfig {
	return storage.DatabaseConfig{
		Driver:      db.Driver,
		DSN:         db.DSN,
		Host:        db.Host,
		Port:        db.Port,
		User:        db.User,
		Password:    db.Password,
		DBName:      db.DBName,
		SSLMode:     db.SSLMode,
		UseInMemory: db.UseInMemory,
	}
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	if leveled, err := newLogger(cfg.Log); err != nil {
		logger.Warn("Invalid log config, keeping defaults", zap.Error(err), zap.String("level", cfg.Log.Level))
	} else {
		logger = leveled
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create Telegram client", zap.Error(err))
	}
	api.Debug = cfg.Telegram.Debug

	username := cfg.Telegram.BotUsername
	if username == "" {
		username = api.Self.UserName
	}
	logger.Info("Authorized on account", zap.String("username", api.Self.UserName))

	// Initialize storage
	store, err := storage.NewStore(ctx, storageConfig(cfg.Database), logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracker storage", zap.Error(err))
	}
	defer store.Close()

	directory, err := storage.NewDirectoryStore(ctx, storageConfig(cfg.Directory), logger)
	if err != nil {
		logger.Fatal("Failed to initialize directory storage", zap.Error(err))
	}
	defer directory.Close()

	resolver, err := targets.NewTelegramResolver(api, targets.CacheConfig{
		NumCounters: cfg.Resolver.CacheMaxEntries * 10,
		MaxCost:     cfg.Resolver.CacheMaxEntries,
		TTL:         cfg.Resolver.CacheTTL,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create chat resolver", zap.Error(err))
	}
	defer resolver.Close()

	var sessions session.Store
	switch cfg.Session.Backend {
	case "redis":
		client, err := session.NewRedisClient(ctx, session.RedisConfig{
			URL:      cfg.Redis.URL,
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		sessions = session.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Session.TTL)
		logger.Info("Using Redis sessions")
	default:
		sessions = session.NewMemoryStore(cfg.Session.TTL)
		logger.Info("Using in-memory sessions")
	}

	var clf classifier.Classifier
	if cfg.OpenAI.APIKey != "" {
		clf = classifier.NewGPTClassifier(classifier.GPTConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			MaxTopics:   cfg.Classifier.MaxTopics,
		}, logger)
	} else {
		clf = classifier.NewSimpleClassifier(cfg.Classifier.MaxTopics)
	}

	limiter := bot.NewRateLimiter(bot.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
		CleanupInterval:   cfg.RateLimit.CleanupInterval,
	})

	engine := tracker.New(store, resolver, logger)
	b := bot.New(api, engine, directory, sessions, clf, limiter, bot.Options{
		BotUsername: username,
		RecentLimit: cfg.Classifier.RecentLimit,
	}, logger)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.UpdateTimeout
	updates := api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	logger.Info("Bot started", zap.String("username", username))
	if err := b.Start(ctx, updates); err != nil {
		logger.Error("Bot error", zap.Error(err))
	}
	logger.Info("Bot stopped")
}
