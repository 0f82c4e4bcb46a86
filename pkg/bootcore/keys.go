package bootcore

import (
	"bufio"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// sealedPrefix marks a key file whose payload is XSalsa20-encrypted with a
// passphrase-derived key instead of stored as plain hex.
const sealedPrefix = "xsalsa20:"

// LoadKeyHexFile loads a 32-byte key from a .hex file. The file contains a
// single line: either 64 hexadecimal characters, or a sealed line written
// by WriteKeyHexFile with a non-empty passphrase, in which case the same
// passphrase must be supplied here.
func LoadKeyHexFile(path string, passphrase []byte) ([KeyBytes]byte, error) {
	var key [KeyBytes]byte

	f, err := os.Open(path)
	if err != nil {
		return key, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, sealedPrefix) {
			return openSealedKey(line, passphrase)
		}
		if len(line) != KeyBytes*2 {
			return key, fmt.Errorf("key must be %d hex chars, got %d", KeyBytes*2, len(line))
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			return key, fmt.Errorf("invalid hex key: %v", err)
		}
		copy(key[:], raw)
		return key, nil
	}
	if err := scanner.Err(); err != nil {
		return key, err
	}
	return key, errors.New("key file is empty")
}

// WriteKeyHexFile writes a 32-byte key to path, mode 0600. With an empty
// passphrase the key is written as one line of hex; otherwise it is sealed
// with XSalsa20 under a passphrase-derived key so it never touches disk in
// the clear. nonce must be fresh per file.
func WriteKeyHexFile(path string, key [KeyBytes]byte, passphrase []byte, nonce [NonceBytes]byte) error {
	var line string
	if len(passphrase) == 0 {
		line = hex.EncodeToString(key[:])
	} else {
		sealed := make([]byte, KeyBytes)
		streamXOR(sealed, key[:], passphraseKey(passphrase), nonce)
		line = sealedPrefix + hex.EncodeToString(nonce[:]) + ":" + hex.EncodeToString(sealed)
	}
	return os.WriteFile(path, []byte(line+"\n"), 0o600)
}

func openSealedKey(line string, passphrase []byte) ([KeyBytes]byte, error) {
	var key [KeyBytes]byte
	if len(passphrase) == 0 {
		return key, errors.New("key file is sealed, passphrase required")
	}

	parts := strings.Split(strings.TrimPrefix(line, sealedPrefix), ":")
	if len(parts) != 2 {
		return key, errors.New("malformed sealed key file")
	}
	nonceRaw, err := hex.DecodeString(parts[0])
	if err != nil || len(nonceRaw) != NonceBytes {
		return key, errors.New("malformed sealed key nonce")
	}
	sealed, err := hex.DecodeString(parts[1])
	if err != nil || len(sealed) != KeyBytes {
		return key, errors.New("malformed sealed key payload")
	}

	var nonce [NonceBytes]byte
	copy(nonce[:], nonceRaw)
	streamXOR(key[:], sealed, passphraseKey(passphrase), nonce)
	return key, nil
}

// passphraseKey derives the 32-byte sealing key from an operator
// passphrase. SHA-512 truncated to 32 bytes matches the hash primitive the
// rest of this package is built on; key files are an operator convenience,
// not a password-cracking boundary.
func passphraseKey(passphrase []byte) [KeyBytes]byte {
	var key [KeyBytes]byte
	sum := sha512.Sum512(passphrase)
	copy(key[:], sum[:KeyBytes])
	return key
}

// LoadKeys loads the install and readback keys from their two hex files.
func LoadKeys(updatePath, readbackPath string, passphrase []byte) (Keys, error) {
	var keys Keys
	update, err := LoadKeyHexFile(updatePath, passphrase)
	if err != nil {
		return keys, fmt.Errorf("update key: %w", err)
	}
	readback, err := LoadKeyHexFile(readbackPath, passphrase)
	if err != nil {
		return keys, fmt.Errorf("readback key: %w", err)
	}
	keys.Update = update
	keys.Readback = readback
	return keys, nil
}
