package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gopkg.in/yaml.v3"
)

// Config is the client-side YAML configuration. Values in the file
// may reference environment variables with ${VAR} syntax.
type Config struct {
	ServerURL   string `yaml:"server_url"`
	SessionPath string `yaml:"session_path"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServerURL, validation.Required, is.URL),
	)
}

// DefaultConfigPath is where kpictl looks when no --config is given.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(dir, ".kpiboard", "config.yaml"), nil
}

// LoadConfig reads and validates the YAML config after environment
// expansion. A missing file yields defaults rather than an error so
// first-run users can rely on flags alone.
func LoadConfig(path string) (Config, error) {
	cfg := Config{ServerURL: "http://localhost:8080"}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
