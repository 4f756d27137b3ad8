package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/geniustalk/internal/relay"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":10000", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, "multi", cfg.ConnectionPolicy)
	assert.Equal(t, "drop-newest", cfg.SendOverflow)
	assert.False(t, cfg.DeriveSender)
	assert.Equal(t, relay.PolicyMulti, cfg.Policy())
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PORT", "8081")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("SEND_QUEUE_SIZE", "32")
	t.Setenv("SEND_OVERFLOW", "drop-oldest")
	t.Setenv("PING_INTERVAL", "15")
	t.Setenv("CONNECTION_POLICY", "single")
	t.Setenv("DERIVE_SENDER", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(2048), cfg.MaxMessageSize)
	assert.Equal(t, RateLimitConfig{Burst: 7, RefillInterval: 3 * time.Second}, cfg.RateLimit)
	assert.Equal(t, 15*time.Second, cfg.PingInterval)
	assert.Equal(t, relay.PolicySingle, cfg.Policy())
	assert.True(t, cfg.DeriveSender)
	assert.Equal(t, "debug", cfg.LogLevel)

	opts := cfg.ConnOptions()
	assert.Equal(t, 32, opts.SendQueueSize)
	assert.Equal(t, relay.DropOldest, opts.Overflow)
	assert.Equal(t, 40*time.Second, opts.PongWait, "two ping intervals plus the write timeout")
}

func TestServerPortOverridesPort(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("SERVER_PORT", "127.0.0.1:9000")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Port)
}

func TestInvalidNumericEnvFallsBack(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("PING_INTERVAL", "0")
	t.Setenv("DERIVE_SENDER", "maybe")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)

	def := NewConfig()
	assert.Equal(t, def.MaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, def.RateLimit.Burst, cfg.RateLimit.Burst)
	assert.Equal(t, def.PingInterval, cfg.PingInterval)
	assert.False(t, cfg.DeriveSender)
}

func TestInvalidPolicyIsRejected(t *testing.T) {
	t.Setenv("CONNECTION_POLICY", "sometimes")
	_, err := NewConfigFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("CONNECTION_POLICY", "multi")
	t.Setenv("SEND_OVERFLOW", "block")
	_, err = NewConfigFromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geniustalk.toml")
	content := `
port = ":7000"
allowed_origins = ["https://chat.example"]
connection_policy = "single"
ping_interval = "45s"

[rate_limit]
burst = 3
refill_interval = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("CONNECTION_POLICY", "multi")

	cfg, err := NewConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Port)
	assert.Equal(t, []string{"https://chat.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 45*time.Second, cfg.PingInterval)
	assert.Equal(t, RateLimitConfig{Burst: 3, RefillInterval: 2 * time.Second}, cfg.RateLimit)
	assert.Equal(t, relay.PolicyMulti, cfg.Policy(), "environment wins over the file")
	assert.Equal(t, int64(4096), cfg.MaxMessageSize, "keys absent from the file keep defaults")
}

func TestConfigFileErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := NewConfigFromEnv()
	assert.ErrorContains(t, err, "config load failed")

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = "), 0o600))
	t.Setenv("CONFIG_FILE", path)
	_, err = NewConfigFromEnv()
	assert.ErrorContains(t, err, "config parse failed")
}

func TestNormalizePort(t *testing.T) {
	assert.Equal(t, ":10000", normalizePort(""))
	assert.Equal(t, ":80", normalizePort("80"))
	assert.Equal(t, "localhost:80", normalizePort("localhost:80"))
}
