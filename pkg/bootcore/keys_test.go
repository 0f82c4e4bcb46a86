package bootcore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestKeyHexFileRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "update_key.hex")

	var key [KeyBytes]byte
	for i := range key {
		key[i] = byte(i * 3)
	}
	if err := WriteKeyHexFile(path, key, nil, testNonce(0x60)); err != nil {
		t.Fatalf("WriteKeyHexFile: %v", err)
	}

	loaded, err := LoadKeyHexFile(path, nil)
	if err != nil {
		t.Fatalf("LoadKeyHexFile: %v", err)
	}
	if loaded != key {
		t.Fatalf("loaded key differs from written key")
	}
}

func TestSealedKeyFileRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "update_key.hex")
	passphrase := []byte("correct horse")

	var key [KeyBytes]byte
	for i := range key {
		key[i] = byte(0xA0 ^ i)
	}
	if err := WriteKeyHexFile(path, key, passphrase, testNonce(0x70)); err != nil {
		t.Fatalf("WriteKeyHexFile: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if !strings.HasPrefix(string(content), sealedPrefix) {
		t.Fatalf("sealed key file is missing the sealed prefix")
	}

	loaded, err := LoadKeyHexFile(path, passphrase)
	if err != nil {
		t.Fatalf("LoadKeyHexFile: %v", err)
	}
	if loaded != key {
		t.Fatalf("unsealed key differs from written key")
	}

	if _, err := LoadKeyHexFile(path, nil); err == nil {
		t.Fatalf("sealed key loaded without a passphrase")
	}
}

func TestLoadKeyHexFileRejectsShortKey(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "short.hex")
	if err := os.WriteFile(path, []byte("00112233\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	if _, err := LoadKeyHexFile(path, nil); err == nil {
		t.Fatalf("short key accepted")
	}
}

func TestLoadKeysReadsBothFiles(t *testing.T) {
	tmp := t.TempDir()
	updatePath := filepath.Join(tmp, "update_key.hex")
	readbackPath := filepath.Join(tmp, "readback_key.hex")

	keys := testKeys()
	if err := WriteKeyHexFile(updatePath, keys.Update, nil, testNonce(0x80)); err != nil {
		t.Fatalf("write update key: %v", err)
	}
	if err := WriteKeyHexFile(readbackPath, keys.Readback, nil, testNonce(0x90)); err != nil {
		t.Fatalf("write readback key: %v", err)
	}

	loaded, err := LoadKeys(updatePath, readbackPath, nil)
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	if loaded != keys {
		t.Fatalf("loaded keys differ from written keys")
	}
}
