package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
)

type AppConfig struct {
	App struct {
		Name     string
		Port     string
		DevMode  bool
		LogLevel zerolog.Level
	}
	Auth struct {
		JWTSecret string
	}
	Store struct {
		Kind        StoreKind
		DatabaseURL string
	}
	Redis struct {
		Enabled  bool
		Host     string
		Port     int
		Password string
		DB       int
	}
	Kafka struct {
		Brokers     []string
		GroupID     string
		EventsTopic string
	}
	Competition struct {
		Start       *time.Time
		End         *time.Time
		RequireTeam bool
		File        string
	}
	Submission struct {
		Timeout         time.Duration
		RateLimit       int
		RateLimitWindow time.Duration
	}
	Broadcast struct {
		QueueSize int
	}
	Leaderboard struct {
		Debounce time.Duration
		CacheTTL time.Duration
	}
}

var Config AppConfig

// InitConfig reads the environment, loading .env first in dev mode.
func InitConfig(devMode bool) (*AppConfig, error) {
	if devMode {
		if err := godotenv.Load(); err != nil {
			log.Warn().Err(err).Msg("Error loading .env file")
		}
	}

	cfg := AppConfig{}
	cfg.App.Name = getEnv("APP_NAME", "ctf-core")
	cfg.App.Port = getEnv("PORT", "8080")
	cfg.App.DevMode = devMode || getEnvAsBool("DEV_MODE", false)

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.App.LogLevel = level

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	cfg.Store.Kind = StoreKind(getEnv("STORE", string(StoreMemory)))
	cfg.Store.DatabaseURL = getEnv("DATABASE_URL", "")
	switch cfg.Store.Kind {
	case StoreMemory:
	case StorePostgres:
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE must be memory or postgres, got %q", cfg.Store.Kind)
	}

	cfg.Redis.Host = getEnv("REDIS_HOST", "")
	cfg.Redis.Enabled = cfg.Redis.Host != ""
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	cfg.Kafka.Brokers = getEnvAsList("KAFKA_BROKERS")
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", "ctf-core")
	cfg.Kafka.EventsTopic = getEnv("KAFKA_EVENTS_TOPIC", "")

	if cfg.Competition.Start, err = getEnvAsTime("COMPETITION_START_TIME"); err != nil {
		return nil, err
	}
	if cfg.Competition.End, err = getEnvAsTime("COMPETITION_END_TIME"); err != nil {
		return nil, err
	}
	cfg.Competition.RequireTeam = getEnvAsBool("REQUIRE_TEAM", false)
	cfg.Competition.File = getEnv("COMPETITION_FILE", "")

	cfg.Submission.Timeout = getEnvAsDuration("SUBMIT_TIMEOUT", 10*time.Second)
	cfg.Submission.RateLimit = getEnvAsInt("RATE_LIMIT", 10)
	cfg.Submission.RateLimitWindow = getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute)

	cfg.Broadcast.QueueSize = getEnvAsInt("BROADCAST_QUEUE_SIZE", 1024)

	cfg.Leaderboard.Debounce = getEnvAsDuration("LEADERBOARD_DEBOUNCE", 2*time.Second)
	cfg.Leaderboard.CacheTTL = getEnvAsDuration("LEADERBOARD_CACHE_TTL", 30*time.Second)

	Config = cfg
	return &Config, nil
}

// KafkaEnabled reports whether any broker is configured.
func (c *AppConfig) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsTime parses an RFC 3339 timestamp. Unset means no bound.
func getEnvAsTime(key string) (*time.Time, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, valueStr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &t, nil
}
