package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/config"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := config.LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "0 0 1 1 *", cfg.AllocationCron)
	assert.False(t, cfg.Production())
}

func TestLoadFile_TOMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leave.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":9090"
db_driver = "postgres"
database_url = "postgres://from-file"
max_retries = 5
allowed_origins = ["https://leave.example.edu"]
`), 0o600))

	t.Setenv("DATABASE_URL", "postgres://from-env")
	t.Setenv("LEAVE_IDEMPOTENCY_TTL", "2h")
	t.Setenv("LEAVE_ENABLE_DEMO", "false")
	t.Setenv("LEAVE_MAX_RETRIES", "not-a-number")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://from-env", cfg.DatabaseURL, "environment wins over the file")
	assert.Equal(t, 5, cfg.MaxRetries, "unparsable values keep the previous layer")
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyTTL)
	assert.False(t, cfg.EnableDemo)
	assert.Equal(t, []string{"https://leave.example.edu"}, cfg.AllowedOrigins)

	t.Setenv("LEAVE_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	cfg, err = config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadFile_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("addr = "), 0o600))
	_, err := config.LoadFile(path)
	assert.Error(t, err)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		cfg := config.Defaults()
		cfg.JWTSecret = "dev-secret"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing secret", func(c *config.Config) { c.JWTSecret = "" }},
		{"unknown driver", func(c *config.Config) { c.DBDriver = "oracle" }},
		{"sqlite without path", func(c *config.Config) { c.DBPath = " " }},
		{"postgres without url", func(c *config.Config) { c.DBDriver = config.DriverPostgres }},
		{"memory in production", func(c *config.Config) {
			c.DBDriver = config.DriverMemory
			c.Environment = "production"
			c.EnableDemo = false
			c.JWTSecret = "0123456789abcdef0123456789abcdef"
		}},
		{"short secret in production", func(c *config.Config) { c.Environment = "production"; c.EnableDemo = false }},
		{"demo in production", func(c *config.Config) {
			c.Environment = "production"
			c.JWTSecret = "0123456789abcdef0123456789abcdef"
		}},
		{"negative retries", func(c *config.Config) { c.MaxRetries = -1 }},
		{"zero idempotency ttl", func(c *config.Config) { c.IdempotencyTTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	prod := valid()
	prod.Environment = "production"
	prod.EnableDemo = false
	prod.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, prod.Validate())
}
