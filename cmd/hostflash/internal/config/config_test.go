package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeInputs(t *testing.T, dir string) (string, string) {
	t.Helper()
	keyPath := filepath.Join(dir, "update_key.hex")
	imagePath := filepath.Join(dir, "firmware.fwh")
	if err := os.WriteFile(keyPath, []byte(strings.Repeat("CD", 32)+"\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if err := os.WriteFile(imagePath, []byte("0400000001020304\n"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return keyPath, imagePath
}

func TestLoadValidConfig(t *testing.T) {
	tmp := t.TempDir()
	keyPath, imagePath := writeInputs(t, tmp)

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
serial:
  device: /dev/ttyUSB1
  baud: 115200
image:
  path: "firmware.fwh"
  version: 4
  page_size: 128
keys:
  update_key_hex_file: "update_key.hex"
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Keys.UpdateKeyHexFile != keyPath {
		t.Fatalf("expected resolved key path %q, got %q", keyPath, cfg.Keys.UpdateKeyHexFile)
	}
	if cfg.Image.Path != imagePath {
		t.Fatalf("expected resolved image path %q, got %q", imagePath, cfg.Image.Path)
	}
}

func TestLoadFleetSectionRequiresDevice(t *testing.T) {
	tmp := t.TempDir()
	writeInputs(t, tmp)

	cfgPath := filepath.Join(tmp, "config.yaml")
	cfgYAML := `
serial:
  device: /dev/ttyUSB1
  baud: 115200
image:
  path: "firmware.fwh"
  version: 4
  page_size: 128
keys:
  update_key_hex_file: "update_key.hex"
fleet:
  url: http://fleetd.local:8700
`
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("fleet section without device accepted")
	}
}
