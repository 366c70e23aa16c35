package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// TwinConfig configures the local twin of the backend and identity provider.
type TwinConfig struct {
	Port            int           `env:"TWIN_PORT" yaml:"port"`
	APIKey          string        `env:"TWIN_API_KEY" yaml:"api_key"`
	TokenSecret     string        `env:"TWIN_TOKEN_SECRET" yaml:"token_secret"`
	TokenIssuer     string        `env:"TWIN_TOKEN_ISSUER" yaml:"token_issuer"`
	StartingBalance int           `env:"TWIN_STARTING_BALANCE" yaml:"starting_balance"`
	TimeBonus       int           `env:"TWIN_TIME_BONUS" yaml:"time_bonus"`
	BonusInterval   time.Duration `env:"TWIN_BONUS_INTERVAL" yaml:"bonus_interval"`
	Seed            int64         `env:"TWIN_SEED" yaml:"seed"`
	LogLevel        string        `env:"TWIN_LOG_LEVEL" yaml:"log_level"`
}

func DefaultTwin() *TwinConfig {
	return &TwinConfig{
		Port:            8090,
		APIKey:          "twin-api-key",
		TokenSecret:     "twin-secret-change-me-please",
		TokenIssuer:     "keno-twin",
		StartingBalance: 100,
		TimeBonus:       25,
		BonusInterval:   4 * time.Hour,
		LogLevel:        "info",
	}
}

// LoadTwin applies the optional YAML file at path and then the environment
// onto DefaultTwin.
func LoadTwin(path string) (*TwinConfig, error) {
	cfg := DefaultTwin()
	if err := overlayFile(path, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}

func (c *TwinConfig) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("api key is required"))
	}
	if len(c.TokenSecret) < 16 {
		errs = append(errs, errors.New("token secret must be at least 16 characters"))
	}
	if c.StartingBalance < 0 || c.TimeBonus < 0 {
		errs = append(errs, errors.New("balances must not be negative"))
	}
	if c.BonusInterval <= 0 {
		errs = append(errs, errors.New("bonus interval must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
