// Package config loads the service configuration: YAML file over struct
// defaults, environment overrides for secrets, validated before anything
// starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"marketflow/internal/core"
	"marketflow/internal/dist"
	"marketflow/internal/execution"
	"marketflow/internal/logging"
	"marketflow/internal/store/redis"
	"marketflow/internal/store/sqlite"
	"marketflow/internal/strategy"
	"marketflow/internal/stream"
	"marketflow/internal/ta"
	"marketflow/pkg/brokerapi"
)

// HTTP is the operator server section.
type HTTP struct {
	Addr            string        `yaml:"addr" default:":8080" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s" validate:"gt=0"`
}

// Config is the root of the YAML file. Every section carries its own
// defaults; an empty file is a complete paper-trading setup.
type Config struct {
	Logging   logging.Config   `yaml:"logging"`
	TA        ta.Config        `yaml:"ta"`
	Stream    stream.Config    `yaml:"stream"`
	Strategy  strategy.Config  `yaml:"strategy"`
	Dist      dist.Config      `yaml:"dist"`
	Broker    brokerapi.Config `yaml:"broker"`
	Execution execution.Config `yaml:"execution"`
	SQLite    sqlite.Config    `yaml:"sqlite"`
	Redis     redis.Config     `yaml:"redis"`
	Core      core.Config      `yaml:"core"`
	HTTP      HTTP             `yaml:"http"`
}

// Load reads the YAML file at path over struct defaults, applies env
// overrides for secrets, and validates the result. A missing file is not
// an error: defaults plus env are a complete dev setup. path == "" skips
// the file entirely.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// applyEnv pulls secrets from the environment. Credentials never live in
// the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MF_BROKER_API_KEY"); v != "" {
		c.Broker.APIKey = v
	}
	if v := os.Getenv("MF_BROKER_TOTP_SECRET"); v != "" {
		c.Broker.TOTPSecret = v
	}
	if v := os.Getenv("MF_BROKER_CLIENT_CODE"); v != "" {
		c.Broker.ClientCode = v
	}
	if v := os.Getenv("MF_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

// RequireBrokerCreds verifies the live-trading secrets are present.
// Paper mode never needs them.
func (c *Config) RequireBrokerCreds() error {
	if c.Broker.APIKey == "" {
		return errors.New("MF_BROKER_API_KEY not set")
	}
	if c.Broker.TOTPSecret == "" {
		return errors.New("MF_BROKER_TOTP_SECRET not set")
	}
	if c.Broker.ClientCode == "" {
		return errors.New("broker client_code not configured")
	}
	return nil
}
