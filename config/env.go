package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Settings is the process configuration, read from the environment after
// an optional .env file.
type Settings struct {
	Port string

	DBDriver   string
	SQLitePath string

	LogLevel  string
	LogPretty bool

	ServiceName    string
	JaegerEndpoint string

	RedisURL       string
	DispatchLogMax int64

	ChannelsFile string
	CORSOrigins  string

	SyncDebounce      time.Duration
	SyncFlushInterval time.Duration
	SyncFlushLimit    int
	SyncLease         time.Duration
	ChannelTimeout    time.Duration
}

func LoadSettings() Settings {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not found or couldn't load it; continuing with environment variables")
	}
	return Settings{
		Port:              envOrDefault("PORT", "8080"),
		DBDriver:          strings.ToLower(envOrDefault("DB_DRIVER", "mysql")),
		SQLitePath:        envOrDefault("SQLITE_PATH", "channel_sync.db"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogPretty:         envBool("LOG_PRETTY", false),
		ServiceName:       envOrDefault("SERVICE_NAME", "hotel-channel-sync"),
		JaegerEndpoint:    strings.TrimSpace(os.Getenv("JAEGER_ENDPOINT")),
		RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
		DispatchLogMax:    int64(envInt("DISPATCH_LOG_MAX", 1000)),
		ChannelsFile:      strings.TrimSpace(os.Getenv("CHANNELS_FILE")),
		CORSOrigins:       strings.TrimSpace(os.Getenv("CORS_ORIGINS")),
		SyncDebounce:      envDuration("SYNC_DEBOUNCE", time.Second),
		SyncFlushInterval: envDuration("SYNC_FLUSH_INTERVAL", 5*time.Second),
		SyncFlushLimit:    envInt("SYNC_FLUSH_LIMIT", 50),
		SyncLease:         envDuration("SYNC_PROCESSING_LEASE", 5*time.Minute),
		ChannelTimeout:    envDuration("CHANNEL_HTTP_TIMEOUT", 10*time.Second),
	}
}

func envOrDefault(key, def string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	return value
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", raw).Msg("ignoring invalid integer setting")
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// envDuration accepts a Go duration ("1.5s") or a bare number of
// milliseconds ("1000").
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", raw).Msg("ignoring invalid duration setting")
		return def
	}
	return d
}
