// Package server provides configuration helpers that define runtime defaults,
// validation, and the relay tuning parameters for the GeniusTalk service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Tyrowin/geniustalk/internal/relay"
)

// ErrInvalidConfig wraps configuration values that cannot be interpreted.
var ErrInvalidConfig = errors.New("invalid configuration")

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `toml:"burst"`
	RefillInterval time.Duration `toml:"refill_interval"`
}

// Config holds the server configuration settings. Durations in a TOML file
// are strings such as "30s"; in the environment they are whole seconds.
type Config struct {
	Port             string          `toml:"port"`
	AllowedOrigins   []string        `toml:"allowed_origins"`
	MaxMessageSize   int64           `toml:"max_message_size"`
	RateLimit        RateLimitConfig `toml:"rate_limit"`
	SendQueueSize    int             `toml:"send_queue_size"`
	SendOverflow     string          `toml:"send_overflow"`
	PingInterval     time.Duration   `toml:"ping_interval"`
	WriteTimeout     time.Duration   `toml:"write_timeout"`
	ConnectionPolicy string          `toml:"connection_policy"`
	DeriveSender     bool            `toml:"derive_sender"`
	ShutdownTimeout  time.Duration   `toml:"shutdown_timeout"`
	LogLevel         string          `toml:"log_level"`
	LogFormat        string          `toml:"log_format"`
}

func defaultConfig() Config {
	return Config{
		Port:           ":10000",
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		SendQueueSize:    256,
		SendOverflow:     relay.DropNewest.String(),
		PingInterval:     relay.DefaultPingInterval,
		WriteTimeout:     10 * time.Second,
		ConnectionPolicy: relay.PolicyMulti.String(),
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv builds the configuration from defaults, then the TOML file
// named by CONFIG_FILE if set, then individual environment variables.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	sanitized, err := cfg.Sanitize()
	if err != nil {
		return nil, err
	}
	return &sanitized, nil
}

// LoadFile decodes a TOML file over cfg. Keys missing from the file keep
// their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	// PORT is what hosting platforms inject; SERVER_PORT wins when both are set.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		cfg.SendQueueSize = parseIntValue(size, cfg.SendQueueSize)
	}
	if overflow := os.Getenv("SEND_OVERFLOW"); overflow != "" {
		cfg.SendOverflow = overflow
	}

	if interval := os.Getenv("PING_INTERVAL"); interval != "" {
		cfg.PingInterval = parseSeconds(interval, cfg.PingInterval)
	}
	if timeout := os.Getenv("WRITE_TIMEOUT"); timeout != "" {
		cfg.WriteTimeout = parseSeconds(timeout, cfg.WriteTimeout)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	if policy := os.Getenv("CONNECTION_POLICY"); policy != "" {
		cfg.ConnectionPolicy = policy
	}
	if derive := os.Getenv("DERIVE_SENDER"); derive != "" {
		if v, err := strconv.ParseBool(derive); err == nil {
			cfg.DeriveSender = v
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
}

// Sanitize replaces out-of-range numeric values with defaults and normalizes
// the listen address. Unknown policy names are reported as ErrInvalidConfig.
func (c Config) Sanitize() (Config, error) {
	def := defaultConfig()

	c.Port = normalizePort(c.Port)
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)

	if _, err := relay.ParsePolicy(c.ConnectionPolicy); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := relay.ParseOverflowPolicy(c.SendOverflow); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c, nil
}

// Policy returns the registry bind policy. Call Sanitize first.
func (c Config) Policy() relay.Policy {
	p, _ := relay.ParsePolicy(c.ConnectionPolicy)
	return p
}

// ConnOptions translates the configuration into per-connection options. The
// read deadline allows two full probe cycles plus a write before it fires,
// so the Monitor is always the first to evict.
func (c Config) ConnOptions() relay.ConnOptions {
	overflow, _ := relay.ParseOverflowPolicy(c.SendOverflow)
	return relay.ConnOptions{
		SendQueueSize:  c.SendQueueSize,
		Overflow:       overflow,
		MaxMessageSize: c.MaxMessageSize,
		WriteTimeout:   c.WriteTimeout,
		PongWait:       2*c.PingInterval + c.WriteTimeout,
		RateLimit: relay.RateLimit{
			Burst:          c.RateLimit.Burst,
			RefillInterval: c.RateLimit.RefillInterval,
		},
	}
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultConfig().Port
	}
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
