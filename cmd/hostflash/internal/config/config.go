package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial SerialConfig `yaml:"serial"`
	Image  ImageConfig  `yaml:"image"`
	Keys   KeysConfig   `yaml:"keys"`
	Fleet  FleetConfig  `yaml:"fleet"`
}

type SerialConfig struct {
	Device string `yaml:"device"`
	Baud   *int   `yaml:"baud"`
}

type ImageConfig struct {
	Path     string  `yaml:"path"`
	Version  *uint16 `yaml:"version"`
	PageSize *int    `yaml:"page_size"`
}

type KeysConfig struct {
	UpdateKeyHexFile string `yaml:"update_key_hex_file"`
}

// FleetConfig is optional: when url is set, hostflash reserves nonces with
// fleetd; when job_id is also set, it streams per-frame progress to it.
type FleetConfig struct {
	URL    string `yaml:"url"`
	Device string `yaml:"device"`
	JobID  string `yaml:"job_id"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Serial.Device) == "" {
		return fmt.Errorf("config.serial.device is required")
	}
	if c.Serial.Baud == nil {
		return fmt.Errorf("config.serial.baud is required")
	}
	if *c.Serial.Baud <= 0 {
		return fmt.Errorf("config.serial.baud must be positive")
	}

	if strings.TrimSpace(c.Image.Path) == "" {
		return fmt.Errorf("config.image.path is required")
	}
	if err := validateReadableFile(c.Image.Path, "config.image.path"); err != nil {
		return err
	}
	if c.Image.Version == nil {
		return fmt.Errorf("config.image.version is required")
	}
	if c.Image.PageSize == nil {
		return fmt.Errorf("config.image.page_size is required")
	}
	if *c.Image.PageSize <= 0 || *c.Image.PageSize%2 != 0 {
		return fmt.Errorf("config.image.page_size must be positive and even")
	}

	if strings.TrimSpace(c.Keys.UpdateKeyHexFile) == "" {
		return fmt.Errorf("config.keys.update_key_hex_file is required")
	}
	if err := validateReadableFile(c.Keys.UpdateKeyHexFile, "config.keys.update_key_hex_file"); err != nil {
		return err
	}

	if c.Fleet.URL != "" {
		parsed, err := url.Parse(c.Fleet.URL)
		if err != nil {
			return fmt.Errorf("config.fleet.url is invalid: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("config.fleet.url must be absolute (include scheme and host)")
		}
		if strings.TrimSpace(c.Fleet.Device) == "" {
			return fmt.Errorf("config.fleet.device is required when fleet.url is set")
		}
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Image.Path = resolvePath(configDir, c.Image.Path)
	c.Keys.UpdateKeyHexFile = resolvePath(configDir, c.Keys.UpdateKeyHexFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
