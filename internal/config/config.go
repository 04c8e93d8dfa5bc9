package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

type Config struct {
	Addr      string      `yaml:"addr"`
	AuthToken string      `yaml:"auth_token"`
	LogLevel  string      `yaml:"log_level"`
	RedisURL  string      `yaml:"redis_url"`
	Discovery bool        `yaml:"discovery"`
	Store     StoreConfig `yaml:"store"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	BoltPath    string `yaml:"bolt_path"`
	PostgresURL string `yaml:"postgres_url"`
}

func Default() Config {
	return Config{
		Addr:     ":8081",
		LogLevel: "info",
		Store: StoreConfig{
			Backend:  BackendMemory,
			BoltPath: "collabstore.db",
		},
	}
}

// Load reads an optional YAML file and applies environment overrides on
// top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.applyEnv()
	switch cfg.Store.Backend {
	case BackendMemory, BackendBolt, BackendPostgres:
	default:
		return cfg, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.Addr, "COLLABSTORE_ADDR")
	set(&c.AuthToken, "COLLABSTORE_AUTH_TOKEN")
	set(&c.LogLevel, "COLLABSTORE_LOG_LEVEL")
	set(&c.RedisURL, "COLLABSTORE_REDIS_URL", "REDIS_URL")
	set(&c.Store.Backend, "COLLABSTORE_STORE_BACKEND")
	set(&c.Store.BoltPath, "COLLABSTORE_BOLT_PATH")
	set(&c.Store.PostgresURL, "COLLABSTORE_POSTGRES_URL", "DATABASE_URL")
	if v := os.Getenv("COLLABSTORE_DISCOVERY"); v == "1" || v == "true" {
		c.Discovery = true
	}
}
