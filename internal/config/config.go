package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models approvalflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret             string `yaml:"jwt_secret"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Domain struct {
		// RequestKind names the approvable-request domain exposed by the API,
		// e.g. "reprints". The engine itself never depends on it.
		RequestKind string `yaml:"request_kind"`
	} `yaml:"domain"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath == "" {
		return fmt.Errorf("config.server.base_path is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Domain.RequestKind == "" {
		return fmt.Errorf("config.domain.request_kind is required")
	}
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	cfg.Auth.AllowLegacyUserHeader = true
	cfg.Domain.RequestKind = "reprints"
	return &cfg
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "approvalflow.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
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

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
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
