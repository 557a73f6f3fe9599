package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models ganttline.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Storage  StorageConfig   `yaml:"storage"`
	Tree     TreeConfig      `yaml:"tree"`
	Auth     AuthConfig      `yaml:"auth"`
	Log      LogConfig       `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type StorageConfig struct {
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`
}

// TreeConfig tunes the WBS engine.
type TreeConfig struct {
	// CompactOnDelete renumbers the former siblings of a deleted node.
	// Off by default: deletes leave the gap.
	CompactOnDelete bool `yaml:"compact_on_delete"`
	MaxMoveRetries  int  `yaml:"max_move_retries"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	AllowActorHeader bool   `yaml:"allow_actor_header"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
	Secret string   `yaml:"secret"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: "127.0.0.1:8080", BasePath: "/v0"},
		Storage: StorageConfig{BusyTimeoutMS: 5000},
		Tree:    TreeConfig{MaxMoveRetries: 3},
		Auth:    AuthConfig{AllowActorHeader: true},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Storage.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.storage.busy_timeout_ms must be >= 0")
	}
	if c.Tree.MaxMoveRetries < 0 {
		return fmt.Errorf("config.tree.max_move_retries must be >= 0")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format %q must be text or json", c.Log.Format)
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		for _, evt := range h.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ganttline.yml")
}

// Load reads the workspace config, falling back to Default when the file
// does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns a commented config file matching Default.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

storage:
  # how long a write waits for the database lock before failing with conflict
  busy_timeout_ms: 5000

tree:
  compact_on_delete: false
  max_move_retries: 3

auth:
  jwt_secret: ""
  allow_actor_header: true

log:
  level: info
  format: text

webhooks: []
`
