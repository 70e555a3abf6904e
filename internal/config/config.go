package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the service settings read from the environment.
type Config struct {
	AppAddr           string
	APIVersion        string
	DatabaseDSN       string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	QueueKey          string
	JWTSecret         string
	JWTAudience       string
	LoadtestMode      bool
	ProcessingDelay   time.Duration
	ProcessingTimeout time.Duration
	GRPCHealthAddr    string
	LogLevel          string
	ShutdownTimeout   time.Duration
}

// APIMajorVersion returns the leading component of APIVersion.
func (c *Config) APIMajorVersion() string {
	major, _, _ := strings.Cut(c.APIVersion, ".")
	if major == "" {
		return "1"
	}
	return major
}

// APIPrefix returns the route prefix of the versioned API.
func (c *Config) APIPrefix() string {
	return "/api/v" + c.APIMajorVersion() + "/frontal"
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		AppAddr:        getEnv("APP_ADDR", ":8080"),
		APIVersion:     getEnv("API_VERSION", "1.0.0"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=facemask port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		QueueKey:       getEnv("QUEUE_KEY", "crop:jobs"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		GRPCHealthAddr: lookupEnv("GRPC_HEALTH_ADDR", ":9090"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.LoadtestMode, err = getBool("LOADTEST_MODE", false); err != nil {
		return nil, err
	}
	if cfg.ProcessingDelay, err = getDuration("PROCESSING_DELAY", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProcessingTimeout, err = getDuration("PROCESSING_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// lookupEnv is like getEnv but keeps an explicitly empty value.
func lookupEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
