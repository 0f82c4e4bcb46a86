package main

import (
	"bytes"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/barnettlynn/secbootloader/pkg/bootcore"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	outDir := flag.String("out", ".", "directory to write key files into")
	protect := flag.Bool("protect", false, "seal key files with an operator passphrase")
	force := flag.Bool("force", false, "overwrite existing key files")
	flag.Parse()

	// Configure slog
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	var passphrase []byte
	if *protect {
		passphrase = promptNewPassphrase()
	}

	for _, name := range []string{"update_key.hex", "readback_key.hex"} {
		path := filepath.Join(*outDir, name)
		if !*force {
			if _, err := os.Stat(path); err == nil {
				log.Fatalf("%s already exists; pass -force to overwrite", path)
			}
		}

		var key [bootcore.KeyBytes]byte
		if _, err := rand.Read(key[:]); err != nil {
			log.Fatalf("generate key: %v", err)
		}
		var nonce [bootcore.NonceBytes]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			log.Fatalf("generate nonce: %v", err)
		}

		if err := bootcore.WriteKeyHexFile(path, key, passphrase, nonce); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
		slog.Info("key written", "path", path, "sealed", *protect)
	}
}

// promptNewPassphrase reads the sealing passphrase twice without echoing
// and insists the two entries match.
func promptNewPassphrase() []byte {
	fmt.Fprint(os.Stderr, "Sealing passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("read passphrase: %v", err)
	}
	if len(first) == 0 {
		log.Fatal("passphrase must not be empty")
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatalf("read passphrase: %v", err)
	}
	if !bytes.Equal(first, second) {
		log.Fatal("passphrases do not match")
	}
	return first
}
