package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"etraxis/internal/i18n"
)

// Config models etraxis.yml.
type Config struct {
	Database struct {
		Workspace     string `yaml:"workspace"`
		BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	} `yaml:"database"`
	Locale struct {
		Default  string `yaml:"default"`
		Timezone string `yaml:"timezone"`
	} `yaml:"locale"`
	Server struct {
		Addr            string `yaml:"addr"`
		BasePath        string `yaml:"base_path"`
		JWTSecret       string `yaml:"jwt_secret"`
		AllowUserHeader bool   `yaml:"allow_user_header"`
	} `yaml:"server"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
		Pretty  bool `yaml:"pretty"`
	} `yaml:"telemetry"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Locale.Default == "" {
		return fmt.Errorf("config.locale.default is required")
	}
	if !i18n.Supported(c.Locale.Default) {
		return fmt.Errorf("config.locale.default %q is not supported", c.Locale.Default)
	}
	if _, err := time.LoadLocation(c.Locale.Timezone); err != nil {
		return fmt.Errorf("config.locale.timezone: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.JWTSecret == "" && !c.Server.AllowUserHeader {
		return fmt.Errorf("config.server needs jwt_secret or allow_user_header")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("config.cache.size must be positive")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.database.busy_timeout_ms must not be negative")
	}
	return nil
}

// Location returns the default time zone of users without one.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Locale.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "etraxis.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates the config of a workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with etraxis init", Path(workspace))
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `database:
  workspace: .
  busy_timeout_ms: 5000

locale:
  default: en
  timezone: UTC

server:
  addr: 127.0.0.1:8080
  base_path: ""
  jwt_secret: ""
  allow_user_header: true

cache:
  size: 1024

telemetry:
  enabled: false
  pretty: false
`
