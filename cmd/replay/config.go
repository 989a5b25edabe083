package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jhgg/discordstate/pkg/crypto"
)

// Config controls a replay run. Values come from an optional YAML file,
// overridden by DISCORDSTATE_* environment variables, overridden by flags.
// The sealing passphrase is env-only so it never lands in a config file.
type Config struct {
	Events    string `yaml:"events"     env:"DISCORDSTATE_EVENTS"`
	DBPath    string `yaml:"db"         env:"DISCORDSTATE_DB"`
	WarmStart bool   `yaml:"warm_start" env:"DISCORDSTATE_WARM_START"`
	Save      bool   `yaml:"save"       env:"DISCORDSTATE_SAVE"`
	Keep      int    `yaml:"keep"       env:"DISCORDSTATE_KEEP" envDefault:"5"`
	Salt      string `yaml:"salt"       env:"DISCORDSTATE_SALT"`
	LogLevel  string `yaml:"log_level"  env:"DISCORDSTATE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `yaml:"log_format" env:"DISCORDSTATE_LOG_FORMAT" envDefault:"text"`

	Passphrase string `yaml:"-" env:"DISCORDSTATE_PASSPHRASE"`
}

// LoadConfig reads the YAML file at path (skipped when empty) and applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Sealer builds the credential sealer from the configured passphrase and
// hex salt, or nil when no passphrase is set.
func (c *Config) Sealer() (*crypto.Sealer, error) {
	if c.Passphrase == "" {
		return nil, nil
	}
	if c.Salt == "" {
		return nil, fmt.Errorf("passphrase set without salt")
	}
	salt, err := hex.DecodeString(c.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	if len(salt) != crypto.SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", crypto.SaltSize, len(salt))
	}
	return crypto.NewSealer(crypto.DeriveKey(c.Passphrase, salt))
}
