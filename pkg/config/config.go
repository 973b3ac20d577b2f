package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Directory  DatabaseConfig   `mapstructure:"directory"`
	Session    SessionConfig    `mapstructure:"session"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Log        LogConfig        `mapstructure:"log"`
}

type TelegramConfig struct {
	Token         string `mapstructure:"token"`
	BotUsername   string `mapstructure:"bot_username"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
	Debug         bool   `mapstructure:"debug"`
}

// DatabaseConfig selects a driver and either a DSN or postgres connection
// fields.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type SessionConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type ResolverConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	CacheMaxEntries int64         `mapstructure:"cache_max_entries"`
}

type ClassifierConfig struct {
	MaxTopics   int `mapstructure:"max_topics"`
	RecentLimit int `mapstructure:"recent_limit"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	switch u.Scheme {
	case "postgres", "postgresql":
	case "libsql", "wss":
		return DatabaseConfig{Driver: "libsql", DSN: dbURL}, nil
	default:
		return DatabaseConfig{}, fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path (when it exists) over the defaults, then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("telegram.update_timeout", 60)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "link_tracker.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("directory.driver", "sqlite")
	v.SetDefault("directory.dsn", "data.db")
	v.SetDefault("directory.use_in_memory", false)
	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "tracker:session:")
	v.SetDefault("ratelimit.requests_per_second", 1.0)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("ratelimit.cleanup_interval", "1m")
	v.SetDefault("resolver.cache_ttl", "1h")
	v.SetDefault("resolver.cache_max_entries", 1000)
	v.SetDefault("classifier.max_topics", 5)
	v.SetDefault("classifier.recent_limit", 10)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 200)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("log.level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if dbPath := v.GetString("DB_PATH"); dbPath != "" {
		config.Database.Driver = "sqlite"
		config.Database.DSN = dbPath
	}

	if dataPath := v.GetString("DATA_DB_PATH"); dataPath != "" {
		config.Directory.Driver = "sqlite"
		config.Directory.DSN = dataPath
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	} else if token := v.GetString("BOT_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if username := v.GetString("BOT_USERNAME"); username != "" {
		config.Telegram.BotUsername = username
	}

	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if level := v.GetString("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is required"))
	}
	for name, db := range map[string]DatabaseConfig{"database": c.Database, "directory": c.Directory} {
		switch db.Driver {
		case "", "sqlite", "libsql", "postgres":
		default:
			errs = append(errs, fmt.Errorf("%s: unsupported driver %q", name, db.Driver))
		}
	}
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis session backend needs redis.url or redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported session backend %q", c.Session.Backend))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("ratelimit values must be positive"))
	}

	return errors.Join(errs...)
}
