package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	QueueAPIURL     string
	QueueAPITimeout time.Duration
	RedisURL        string

	AverageService  time.Duration
	RefreshInterval time.Duration
	DisplayTick     time.Duration
	ViewIdleTimeout time.Duration

	IdentityTag   string
	ProfileCookie string

	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUUID         string

	ServiceName string
}

// Load reads the environment, after applying a .env file when one exists.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:            readString("PORT", "8081"),
		QueueAPIURL:     readString("QUEUE_API_URL", "http://localhost:8000"),
		QueueAPITimeout: readDurationSeconds("QUEUE_API_TIMEOUT_SECONDS", 10),
		RedisURL:        readString("REDIS_URL", "redis://localhost:6379/0"),

		AverageService:  time.Duration(readInt("AVERAGE_SERVICE_MINUTES", 5)) * time.Minute,
		RefreshInterval: readDurationSeconds("REFRESH_INTERVAL_SECONDS", 15),
		DisplayTick:     time.Duration(readInt("DISPLAY_TICK_MILLIS", 1000)) * time.Millisecond,
		ViewIdleTimeout: readDurationSeconds("VIEW_IDLE_TIMEOUT_SECONDS", 600),

		IdentityTag:   readString("IDENTITY_TAG", "dev_"),
		ProfileCookie: readString("PROFILE_COOKIE", "qv_profile"),

		PubNubPublishKey:   os.Getenv("PN_PUBLISH_KEY"),
		PubNubSubscribeKey: os.Getenv("PN_SUBSCRIBE_KEY"),
		PubNubSecretKey:    os.Getenv("PN_SECRET_KEY"),
		PubNubUUID:         readString("PN_UUID", "queue-visitor"),

		ServiceName: readString("OTEL_SERVICE_NAME", "queue-visitor"),
	}
}

// RealtimeEnabled reports whether PubNub keys are configured.
func (c Config) RealtimeEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
