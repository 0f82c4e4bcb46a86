package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Store   StoreConfig   `yaml:"store"`
	Keys    KeysConfig    `yaml:"keys"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type SerialConfig struct {
	HostDevice string `yaml:"host_device"`
	HostBaud   *int   `yaml:"host_baud"`
	AppDevice  string `yaml:"app_device"`
	AppBaud    *int   `yaml:"app_baud"`
}

type StoreConfig struct {
	Path       string  `yaml:"path"`
	PageSize   *int    `yaml:"page_size"`
	MemorySize *uint32 `yaml:"memory_size"`
}

type KeysConfig struct {
	UpdateKeyHexFile   string `yaml:"update_key_hex_file"`
	ReadbackKeyHexFile string `yaml:"readback_key_hex_file"`
}

type RuntimeConfig struct {
	Mode string `yaml:"mode"`
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
	if strings.TrimSpace(c.Serial.HostDevice) == "" {
		return fmt.Errorf("config.serial.host_device is required")
	}
	if c.Serial.HostBaud == nil {
		return fmt.Errorf("config.serial.host_baud is required")
	}
	if *c.Serial.HostBaud <= 0 {
		return fmt.Errorf("config.serial.host_baud must be positive")
	}
	if c.Serial.AppDevice != "" {
		if c.Serial.AppBaud == nil {
			return fmt.Errorf("config.serial.app_baud is required when app_device is set")
		}
		if *c.Serial.AppBaud <= 0 {
			return fmt.Errorf("config.serial.app_baud must be positive")
		}
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("config.store.path is required")
	}
	if c.Store.PageSize == nil {
		return fmt.Errorf("config.store.page_size is required")
	}
	if *c.Store.PageSize <= 0 || *c.Store.PageSize%2 != 0 {
		return fmt.Errorf("config.store.page_size must be positive and even")
	}
	if c.Store.MemorySize == nil {
		return fmt.Errorf("config.store.memory_size is required")
	}
	if *c.Store.MemorySize == 0 || *c.Store.MemorySize%uint32(*c.Store.PageSize) != 0 {
		return fmt.Errorf("config.store.memory_size must be a positive multiple of page_size")
	}

	if strings.TrimSpace(c.Keys.UpdateKeyHexFile) == "" {
		return fmt.Errorf("config.keys.update_key_hex_file is required")
	}
	if err := validateReadableFile(c.Keys.UpdateKeyHexFile, "config.keys.update_key_hex_file"); err != nil {
		return err
	}
	if strings.TrimSpace(c.Keys.ReadbackKeyHexFile) == "" {
		return fmt.Errorf("config.keys.readback_key_hex_file is required")
	}
	if err := validateReadableFile(c.Keys.ReadbackKeyHexFile, "config.keys.readback_key_hex_file"); err != nil {
		return err
	}

	switch c.Runtime.Mode {
	case "install", "readback", "boot":
	default:
		return fmt.Errorf("config.runtime.mode must be install, readback, or boot")
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Store.Path = resolvePath(configDir, c.Store.Path)
	c.Keys.UpdateKeyHexFile = resolvePath(configDir, c.Keys.UpdateKeyHexFile)
	c.Keys.ReadbackKeyHexFile = resolvePath(configDir, c.Keys.ReadbackKeyHexFile)
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
