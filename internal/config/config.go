package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"idle_mining/internal/domain"
	"idle_mining/internal/logger"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	AppPort      string
	Version      string
	LogLevel     string
	LogFormat    string
	StoreBackend string
	DatabaseURL  string
	DBMaxConns   int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Coordinator
	RepoTimeout   time.Duration
	CASMaxRetries int
	CacheSize     int

	Catalog domain.Catalog

	// Admin surface
	AdminAPIKey    string
	AdminJWTSecret string

	// Per-address rate limit on mutating endpoints
	RateLimit       int
	RateLimitWindow time.Duration

	// Browser origins allowed on the player API, empty allows all
	CORSOrigins []string
}

// Load reads the configuration from env and .env, exiting on errors
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// FromEnv builds the configuration from the process environment
func FromEnv() (*Config, error) {
	cfg := &Config{
		AppPort:        getenv("APP_PORT", "8080"),
		Version:        getenv("APP_VERSION", "dev"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "text"),
		StoreBackend:   strings.ToLower(getenv("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		AdminAPIKey:    os.Getenv("ADMIN_API_KEY"),
		AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	maxConns, err := intEnv("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.DBMaxConns = int32(maxConns)
	if cfg.RepoTimeout, err = durationEnv("REPO_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.CASMaxRetries, err = intEnv("CAS_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = intEnv("CACHE_SIZE", 100000); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = intEnv("RATE_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	cfg.CORSOrigins = listEnv("CORS_ALLOWED_ORIGINS")

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is not set")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("REDIS_ADDR is not set")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.Catalog, err = LoadCatalog(os.Getenv("CATALOG_FILE")); err != nil {
		return nil, err
	}
	if v := os.Getenv("MIN_SELL_THRESHOLD"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("MIN_SELL_THRESHOLD: %w", err)
		}
		cfg.Catalog.MinSellThreshold = n
	}
	if v := os.Getenv("EXCHANGE_RATE"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("EXCHANGE_RATE: %w", err)
		}
		cfg.Catalog.ExchangeRate = n
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	return cfg, nil
}

// LoadCatalog reads a JSON catalog. Fields missing from the file keep
// their defaults; an empty path returns the default catalog.
func LoadCatalog(path string) (domain.Catalog, error) {
	c := domain.DefaultCatalog()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read catalog: %w", err)
	}

	var file struct {
		Tiers            map[domain.Tier]domain.PickaxeTier `json:"tiers"`
		MinSellThreshold *float64                           `json:"min_sell_threshold"`
		ExchangeRate     *float64                           `json:"exchange_rate"`
	}
	if err := json.Unmarshal(b, &file); err != nil {
		return c, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for t, p := range file.Tiers {
		c.Tiers[t] = p
	}
	if file.MinSellThreshold != nil {
		c.MinSellThreshold = *file.MinSellThreshold
	}
	if file.ExchangeRate != nil {
		c.ExchangeRate = *file.ExchangeRate
	}
	return c, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func listEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

// durationEnv accepts Go durations ("1500ms") or whole seconds ("2")
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}
