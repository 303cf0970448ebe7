package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location, relative to the
// working directory. Override with ICARUS_CONFIG.
const ConfigPath = "config.yaml"

// Config is the full runtime configuration, loaded from YAML with
// environment overrides.
type Config struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	SessionTTL          string `yaml:"sessionTTL"`
	SessionSecret       string `yaml:"sessionSecret"` // non-empty selects stateless JWT sessions
	SessionCookieName   string `yaml:"sessionCookieName"`
	SessionCookieSecure bool   `yaml:"sessionCookieSecure"`

	AllowedOrigin  string `yaml:"allowedOrigin"`
	UploadDir      string `yaml:"uploadDir"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`

	RegisterRateLimitPerMinute int `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int `yaml:"loginRateLimitPerMinute"`

	EventStream string `yaml:"eventStream"` // empty disables lifecycle events

	ArchiveEndpoint  string `yaml:"archiveEndpoint"` // empty disables the upload archive
	ArchiveAccessKey string `yaml:"archiveAccessKey"`
	ArchiveSecretKey string `yaml:"archiveSecretKey"`
	ArchiveBucket    string `yaml:"archiveBucket"`
	ArchiveUseSSL    bool   `yaml:"archiveUseSSL"`
}

// Load reads the YAML file at path (missing file is not an error), applies
// environment overrides, fills defaults, and validates.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:                       8080,
		LogLevel:                   "info",
		SessionTTL:                 "24h",
		SessionCookieName:          "icarus_session",
		MaxUploadBytes:             10 << 20,
		RegisterRateLimitPerMinute: 5,
		LoginRateLimitPerMinute:    10,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration is fine
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := os.LookupEnv(key); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	if v, ok := os.LookupEnv("ICARUS_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	setString(&c.LogLevel, "ICARUS_LOG_LEVEL")
	setString(&c.DatabaseURL, "ICARUS_DATABASE_URL", "DATABASE_URL")
	setString(&c.RedisAddr, "ICARUS_REDIS_ADDR", "REDIS_ADDR")
	setString(&c.RedisPassword, "ICARUS_REDIS_PASSWORD", "REDIS_PASSWORD")
	setString(&c.SessionTTL, "ICARUS_SESSION_TTL")
	setString(&c.SessionSecret, "ICARUS_SESSION_SECRET")
	setString(&c.SessionCookieName, "ICARUS_SESSION_COOKIE_NAME")
	setString(&c.AllowedOrigin, "ICARUS_ALLOWED_ORIGIN")
	setString(&c.UploadDir, "ICARUS_UPLOAD_DIR")
	setString(&c.EventStream, "ICARUS_EVENT_STREAM")
	setString(&c.ArchiveEndpoint, "ICARUS_ARCHIVE_ENDPOINT")
	setString(&c.ArchiveAccessKey, "ICARUS_ARCHIVE_ACCESS_KEY")
	setString(&c.ArchiveSecretKey, "ICARUS_ARCHIVE_SECRET_KEY")
	setString(&c.ArchiveBucket, "ICARUS_ARCHIVE_BUCKET")
	if v, ok := os.LookupEnv("ICARUS_SESSION_COOKIE_SECURE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.SessionCookieSecure = b
		}
	}
	if v, ok := os.LookupEnv("ICARUS_MAX_UPLOAD_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("databaseURL is required")
	}
	// rate limiting always runs on Redis, and sessions do too unless a JWT
	// secret is configured
	if c.RedisAddr == "" {
		return fmt.Errorf("redisAddr is required")
	}
	if _, err := c.ParseSessionTTL(); err != nil {
		return err
	}
	if c.ArchiveEndpoint != "" && c.ArchiveBucket == "" {
		return fmt.Errorf("archiveBucket is required when archiveEndpoint is set")
	}
	return nil
}

// ParseSessionTTL parses the configured session duration.
func (c *Config) ParseSessionTTL() (time.Duration, error) {
	if c.SessionTTL == "" {
		return 24 * time.Hour, nil
	}
	ttl, err := time.ParseDuration(c.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("sessionTTL %q: %w", c.SessionTTL, err)
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("sessionTTL must be positive, got %q", c.SessionTTL)
	}
	return ttl, nil
}
