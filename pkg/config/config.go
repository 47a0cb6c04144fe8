// Package config centralizes the env-derived settings every service piece
// reads. A .env file is loaded best-effort for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	JWTSecret string

	ScyllaHosts    []string
	ScyllaKeyspace string
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string

	EmailServiceURL        string
	NotificationServiceURL string

	MaxMessageLength int
	HistoryPageSize  int
	TypingTimeout    time.Duration

	WorkerPollInterval time.Duration
}

// Load reads the environment with defaults suitable for a local single-node
// setup.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		JWTSecret: getenv("JWT_SECRET", "chatcore_dev_secret"),

		ScyllaHosts:    split(getenv("SCYLLA_HOSTS", "localhost:9042")),
		ScyllaKeyspace: getenv("SCYLLA_KEYSPACE", "chatcore"),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:   split(getenv("KAFKA_BROKERS", "")),
		KafkaTopic:     getenv("KAFKA_TOPIC", "chat-analytics"),

		EmailServiceURL:        getenv("EMAIL_SERVICE_URL", "http://localhost:3001"),
		NotificationServiceURL: getenv("NOTIFICATION_SERVICE_URL", "http://localhost:3002"),

		MaxMessageLength: getint("MAX_MESSAGE_LENGTH", 2000),
		HistoryPageSize:  getint("HISTORY_PAGE_SIZE", 50),
		TypingTimeout:    getdur("TYPING_TIMEOUT", 3*time.Second),

		WorkerPollInterval: getdur("WORKER_POLL_INTERVAL", 250*time.Millisecond),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func split(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
