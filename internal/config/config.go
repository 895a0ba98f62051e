// Package config loads peekhtml settings from a YAML file. Command-line
// flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "peekhtml.yaml"

// Config holds server settings.
type Config struct {
	Port        int    `yaml:"port"`
	Host        string `yaml:"host"`
	OpenBrowser bool   `yaml:"open_browser"`
	// Project is an optional folder selected at start-up.
	Project        string   `yaml:"project,omitempty"`
	BackupSuffix   string   `yaml:"backup_suffix"`
	MaxBodyMB      int      `yaml:"max_body_mb"`
	Ignore         []string `yaml:"ignore,omitempty"`
	PruneEmptyDirs bool     `yaml:"prune_empty_dirs"`
	SanitizeOnSave bool     `yaml:"sanitize_on_save"`
	Watch          bool     `yaml:"watch"`
}

// DefaultConfig returns the settings used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Port:           3333,
		Host:           "localhost",
		OpenBrowser:    true,
		BackupSuffix:   ".backup",
		MaxBodyMB:      50,
		SanitizeOnSave: true,
		Watch:          true,
	}
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxBodyBytes is the request body limit for save requests.
func (c *Config) MaxBodyBytes() int64 {
	if c.MaxBodyMB <= 0 {
		return 50 << 20
	}
	return int64(c.MaxBodyMB) << 20
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.BackupSuffix == "" {
		return fmt.Errorf("backup_suffix must not be empty")
	}
	for _, p := range c.Ignore {
		if _, err := filepath.Match(p, "test"); err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
	}
	return nil
}

// Load reads configPath over the defaults. An empty or missing path yields
// the defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadFromDir loads FileName from dir.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}
