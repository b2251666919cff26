// Package config loads server settings from defaults, an optional TOML file,
// a .env file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Addr           string        `toml:"addr"`
	DBDriver       string        `toml:"db_driver"`
	DBPath         string        `toml:"db_path"`
	DatabaseURL    string        `toml:"database_url"`
	JWTSecret      string        `toml:"jwt_secret"`
	Environment    string        `toml:"environment"`
	CatalogPath    string        `toml:"catalog"`
	AllocationCron string        `toml:"allocation_cron"`
	MaxRetries     int           `toml:"max_retries"`
	RedisAddr      string        `toml:"redis_addr"`
	IdempotencyTTL time.Duration `toml:"idempotency_ttl"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	EnableDemo     bool          `toml:"enable_demo"`
}

func Defaults() Config {
	return Config{
		Addr:           ":8080",
		DBDriver:       DriverSQLite,
		DBPath:         "./leave.db",
		Environment:    "development",
		AllocationCron: "0 0 1 1 *",
		MaxRetries:     3,
		IdempotencyTTL: 24 * time.Hour,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		EnableDemo:     true,
	}
}

// Load reads .env (if present), then the TOML file named by LEAVE_CONFIG
// (if set), then environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFile(os.Getenv("LEAVE_CONFIG"))
}

// LoadFile layers path (skipped when empty) and the environment over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("LEAVE_ADDR", c.Addr)
	c.DBDriver = getEnv("LEAVE_DB_DRIVER", c.DBDriver)
	c.DBPath = getEnv("LEAVE_DB_PATH", c.DBPath)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.JWTSecret = getEnv("LEAVE_JWT_SECRET", c.JWTSecret)
	c.Environment = getEnv("LEAVE_ENV", c.Environment)
	c.CatalogPath = getEnv("LEAVE_CATALOG", c.CatalogPath)
	c.AllocationCron = getEnv("LEAVE_ALLOCATION_CRON", c.AllocationCron)
	c.MaxRetries = getEnvInt("LEAVE_MAX_RETRIES", c.MaxRetries)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.IdempotencyTTL = getEnvDuration("LEAVE_IDEMPOTENCY_TTL", c.IdempotencyTTL)
	c.EnableDemo = getEnvBool("LEAVE_ENABLE_DEMO", c.EnableDemo)
	if origins := os.Getenv("LEAVE_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = strings.Split(origins, ",")
	}
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("LEAVE_DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
		if c.Production() {
			return fmt.Errorf("the memory driver is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown LEAVE_DB_DRIVER %q", c.DBDriver)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("LEAVE_JWT_SECRET is required")
	}
	if c.Production() {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("LEAVE_JWT_SECRET must be at least 32 bytes in production")
		}
		if c.EnableDemo {
			return fmt.Errorf("demo scenarios must be disabled in production")
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("LEAVE_MAX_RETRIES must not be negative")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("LEAVE_IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
