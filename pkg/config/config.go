// Package config loads service configuration from YAML with
// environment-variable fallbacks for credentials.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxgo-dev/voxgo/pkg/session"
)

// Config represents the application configuration.
type Config struct {
	// HTTPPort is the observability server port.
	HTTPPort int `yaml:"http_port"`

	// Provider selects the generation backend: "vertex", "openai",
	// or "mock".
	Provider string `yaml:"provider"`
	// ProviderConfig holds provider-specific settings (api_key,
	// project_id, location, model).
	ProviderConfig map[string]any `yaml:"provider_config"`

	// Store selects the snapshot store: "memory", "redis", or
	// "firestore".
	Store     string                  `yaml:"store"`
	Redis     session.RedisConfig     `yaml:"redis"`
	Firestore session.FirestoreConfig `yaml:"firestore"`

	// Session holds the session runtime knobs.
	Session session.Config `yaml:"session"`

	// AudioDir enables local audio artifacts when non-empty.
	AudioDir string `yaml:"audio_dir"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.Provider == "" {
		c.Provider = "vertex"
	}
	if c.ProviderConfig == nil {
		c.ProviderConfig = make(map[string]any)
	}
	if c.Store == "" {
		c.Store = "memory"
	}
	if c.Session == (session.Config{}) {
		c.Session = session.DefaultConfig()
	}

	// Credentials from the environment when not in the file.
	if _, ok := c.ProviderConfig["api_key"]; !ok {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.ProviderConfig["api_key"] = key
		}
	}
	if _, ok := c.ProviderConfig["project_id"]; !ok {
		if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
			c.ProviderConfig["project_id"] = project
		}
	}
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
}
