package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                string
	DatabaseURL         string
	DefaultMaxQuota     int
	MaterializeInterval time.Duration
	RelayPollInterval   time.Duration
	RelayBatchSize      int
	RateLimitPerMinute  int
	RateLimitBurst      int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                port,
		DatabaseURL:         os.Getenv("DB_DSN"),
		DefaultMaxQuota:     readInt("DEFAULT_MAX_QUOTA", 30),
		MaterializeInterval: readDurationSeconds("QUOTA_MATERIALIZE_INTERVAL_SECONDS", 300),
		RelayPollInterval:   readDurationSeconds("RELAY_POLL_INTERVAL_SECONDS", 1),
		RelayBatchSize:      readInt("RELAY_BATCH_SIZE", 100),
		RateLimitPerMinute:  readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:      readInt("RATE_LIMIT_BURST", 30),
	}
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
