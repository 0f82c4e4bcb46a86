package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/barnettlynn/secbootloader/pkg/bootcore"
	"github.com/barnettlynn/secbootloader/pkg/simhal"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	device := flag.String("device", "", "serial device connected to the target's HOST channel")
	baud := flag.Int("baud", 115200, "serial baud rate")
	keyFile := flag.String("key", "readback_key.hex", "readback key hex file")
	askPass := flag.Bool("ask-pass", false, "prompt for the key file passphrase")
	start := flag.Uint("start", 0, "program-memory start address")
	length := flag.Uint("length", 0, "number of bytes to read")
	outPath := flag.String("out", "readback.bin", "output file for the returned bytes")
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

	if *device == "" {
		log.Fatal("-device is required")
	}

	var passphrase []byte
	if *askPass {
		fmt.Fprint(os.Stderr, "Key passphrase: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatalf("read passphrase: %v", err)
		}
		passphrase = pw
	}

	readbackKey, err := bootcore.LoadKeyHexFile(*keyFile, passphrase)
	if err != nil {
		log.Fatalf("readback key file invalid: %v", err)
	}
	keys := bootcore.Keys{Readback: readbackKey}

	port, err := simhal.OpenSerial(*device, *baud)
	if err != nil {
		log.Fatalf("open serial: %v", err)
	}
	defer port.Close()

	data, err := readback(context.Background(), port, keys, uint32(*start), uint32(*length))
	if err != nil {
		log.Fatalf("readback failed: %v", err)
	}

	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		log.Fatalf("write output: %v", err)
	}
	slog.Info("readback complete", "start", fmt.Sprintf("0x%X", *start), "bytes", len(data), "out", *outPath)
}

// readback waits for the device to announce readback mode, sends the
// authenticated request, and collects the returned bytes.
func readback(ctx context.Context, port *simhal.SerialPort, keys bootcore.Keys, start, length uint32) ([]byte, error) {
	mode, err := port.ReadByte(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for mode byte: %w", err)
	}
	if mode != byte(bootcore.ModeReadbackByte) {
		return nil, fmt.Errorf("device is not in readback mode, announced 0x%02X", mode)
	}

	var nonce [bootcore.NonceBytes]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	var request [8]byte
	binary.BigEndian.PutUint32(request[0:4], start)
	binary.BigEndian.PutUint32(request[4:8], length)

	macIn := make([]byte, 0, bootcore.NonceBytes+len(request))
	macIn = append(macIn, nonce[:]...)
	macIn = append(macIn, request[:]...)
	tag := bootcore.Mac(keys, bootcore.KeyReadback, macIn)

	wire := make([]byte, 0, len(tag)+len(nonce)+len(request))
	wire = append(wire, tag[:]...)
	wire = append(wire, nonce[:]...)
	wire = append(wire, request[:]...)
	for _, b := range wire {
		if err := port.WriteByte(ctx, b); err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
	}

	for _, name := range []string{"receive", "auth"} {
		status, err := port.ReadByte(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s ack: %w", name, err)
		}
		if status != byte(bootcore.StatusOK) {
			return nil, fmt.Errorf("device refused request at %s phase with status 0x%02X", name, status)
		}
	}

	data := make([]byte, length)
	for i := range data {
		b, err := port.ReadByte(ctx)
		if err != nil {
			return nil, fmt.Errorf("read byte %d of %d: %w", i, length, err)
		}
		data[i] = b
	}
	return data, nil
}
