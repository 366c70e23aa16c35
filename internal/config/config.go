// Package config loads client and twin configuration.
//
// Precedence, lowest first: built-in defaults, an optional YAML file, then
// environment variables. The YAML overlay is decoded onto the defaults and
// env.Parse runs last; the struct carries no envDefault tags, so a variable
// that is unset leaves the file (or default) value alone.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/sakif/keno-client/internal/model"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the client configuration.
type Config struct {
	// Backend
	APIURL   string `env:"KENO_API_URL" yaml:"api_url"`
	Platform string `env:"KENO_PLATFORM" yaml:"platform"`

	// Identity provider
	IdentityURL    string `env:"KENO_IDENTITY_URL" yaml:"identity_url"`
	SecureTokenURL string `env:"KENO_SECURE_TOKEN_URL" yaml:"secure_token_url"`
	IdentityAPIKey string `env:"KENO_IDENTITY_API_KEY" yaml:"identity_api_key"`

	// Google sign-in
	GoogleClientID     string `env:"KENO_GOOGLE_CLIENT_ID" yaml:"google_client_id"`
	GoogleClientSecret string `env:"KENO_GOOGLE_CLIENT_SECRET" yaml:"google_client_secret"`
	GoogleRedirectURL  string `env:"KENO_GOOGLE_REDIRECT_URL" yaml:"google_redirect_url"`

	// Durable store
	StoreDriver string `env:"KENO_STORE" yaml:"store"`
	DBPath      string `env:"KENO_DB_PATH" yaml:"db_path"`
	RedisURL    string `env:"KENO_REDIS_URL" yaml:"redis_url"`
	RedisPrefix string `env:"KENO_REDIS_PREFIX" yaml:"redis_prefix"`

	// Event forwarding
	KafkaEnabled bool   `env:"KENO_KAFKA_ENABLED" yaml:"kafka_enabled"`
	KafkaBrokers string `env:"KENO_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaTopic   string `env:"KENO_KAFKA_TOPIC" yaml:"kafka_topic"`

	// Timeouts and retries
	RequestTimeout time.Duration `env:"KENO_REQUEST_TIMEOUT" yaml:"request_timeout"`
	LoginTimeout   time.Duration `env:"KENO_LOGIN_TIMEOUT" yaml:"login_timeout"`
	FetchRetries   int           `env:"KENO_FETCH_RETRIES" yaml:"fetch_retries"`
	FetchBackoff   time.Duration `env:"KENO_FETCH_BACKOFF" yaml:"fetch_backoff"`

	LogLevel string `env:"KENO_LOG_LEVEL" yaml:"log_level"`
}

// Default returns the configuration used when nothing is overridden. It
// points at a twin running on localhost.
func Default() *Config {
	return &Config{
		APIURL:         "http://localhost:8090/api",
		Platform:       model.PlatformStandalone,
		IdentityURL:    "http://localhost:8090/identity/v1",
		SecureTokenURL: "http://localhost:8090/securetoken/v1/token",
		StoreDriver:    StoreSQLite,
		DBPath:         "data/keno.db",
		RedisPrefix:    "keno:",
		KafkaTopic:     "keno.client.events",
		RequestTimeout: 15 * time.Second,
		LoginTimeout:   60 * time.Second,
		FetchRetries:   2,
		FetchBackoff:   500 * time.Millisecond,
		LogLevel:       "info",
	}
}

// Load builds the configuration. path may be empty; a missing file is not
// an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := overlayFile(path, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if err := validURL("api url", c.APIURL); err != nil {
		errs = append(errs, err)
	}
	switch c.Platform {
	case model.PlatformAndroid, model.PlatformIOS, model.PlatformStandalone:
	default:
		errs = append(errs, fmt.Errorf("platform %q must be one of Android, IOS, STANDALONE", c.Platform))
	}
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db path is required for the sqlite store"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store %q must be sqlite or redis", c.StoreDriver))
	}
	if c.KafkaEnabled && c.KafkaBrokers == "" {
		errs = append(errs, errors.New("kafka brokers are required when kafka is enabled"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.LoginTimeout <= 0 {
		errs = append(errs, errors.New("login timeout must be positive"))
	}
	if c.FetchRetries < 0 {
		errs = append(errs, errors.New("fetch retries must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel returns the configured level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

func overlayFile(path string, cfg any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func validURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s %q must be an absolute URL", name, raw)
	}
	return nil
}
