package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Provider  ProviderConfig
	Media     MediaConfig
	Billing   BillingConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type QueueConfig struct {
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
}

type ProviderConfig struct {
	BaseURL string
	Timeout time.Duration
}

type MediaConfig struct {
	Dir string
}

type BillingConfig struct {
	MessagePrice decimal.Decimal
}

func LoadAll() (*Config, error) {
	postgresURL, err := mustEnv("POSTGRES_URL")
	if err != nil {
		return nil, err
	}
	redisAddr, err := mustEnv("REDIS_ADDR")
	if err != nil {
		return nil, err
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	concurrency, err := getEnvInt("QUEUE_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getEnvInt("QUEUE_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	backoffSec, err := getEnvInt("QUEUE_BACKOFF_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	intervalSec, err := getEnvInt("SCHED_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	providerTimeoutSec, err := getEnvInt("PROVIDER_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	price, err := getEnvDecimal("MESSAGE_PRICE", "0.5")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Redis: RedisConfig{
			Address:  redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Queue: QueueConfig{
			Concurrency: concurrency,
			MaxAttempts: maxAttempts,
			Backoff:     time.Duration(backoffSec) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval: time.Duration(intervalSec) * time.Second,
		},
		Provider: ProviderConfig{
			BaseURL: getEnv("PROVIDER_BASE_URL", "https://graph.facebook.com/v19.0"),
			Timeout: time.Duration(providerTimeoutSec) * time.Second,
		},
		Media: MediaConfig{
			Dir: getEnv("MEDIA_DIR", "./media"),
		},
		Billing: BillingConfig{
			MessagePrice: price,
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Queue.Concurrency <= 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be > 0")
	}
	if cfg.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be > 0")
	}
	if cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("SCHED_INTERVAL_SECONDS must be > 0")
	}
	if cfg.Billing.MessagePrice.IsNegative() {
		return fmt.Errorf("MESSAGE_PRICE must be >= 0")
	}
	return nil
}

func mustEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvDecimal(key, def string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal for env %s: %s", key, v)
	}
	return d, nil
}
