package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/barnettlynn/secbootloader/cmd/hostflash/internal/config"
	"github.com/barnettlynn/secbootloader/pkg/bootcore"
	"github.com/barnettlynn/secbootloader/pkg/hexfw"
	"github.com/barnettlynn/secbootloader/pkg/simhal"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to config file")
	askPass := flag.Bool("ask-pass", false, "prompt for the key file passphrase")
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

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	var passphrase []byte
	if *askPass {
		fmt.Fprint(os.Stderr, "Key passphrase: ")
		passphrase, err = term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			log.Fatalf("read passphrase: %v", err)
		}
	}

	updateKey, err := bootcore.LoadKeyHexFile(cfg.Keys.UpdateKeyHexFile, passphrase)
	if err != nil {
		log.Fatalf("update key file invalid: %v", err)
	}
	keys := bootcore.Keys{Update: updateKey}

	imgFile, err := os.Open(cfg.Image.Path)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	img, err := hexfw.Load(imgFile)
	imgFile.Close()
	if err != nil {
		log.Fatalf("load image: %v", err)
	}

	frames, err := img.Frames(*cfg.Image.PageSize, *cfg.Image.Version)
	if err != nil {
		log.Fatalf("slice image into frames: %v", err)
	}
	slog.Info("image loaded",
		"firmware_bytes", len(img.Data),
		"message_bytes", len(img.Message),
		"frames", len(frames),
		"crc16", fmt.Sprintf("0x%04X", img.CRC))

	port, err := simhal.OpenSerial(cfg.Serial.Device, *cfg.Serial.Baud)
	if err != nil {
		log.Fatalf("open serial: %v", err)
	}
	defer port.Close()

	fleet := newFleetClient(cfg.Fleet.URL, cfg.Fleet.Device, cfg.Fleet.JobID)
	ctx := context.Background()

	if err := flash(ctx, port, keys, frames, *cfg.Image.PageSize, *cfg.Image.Version, fleet); err != nil {
		log.Fatalf("flash failed: %v", err)
	}
	slog.Info("install complete", "frames", len(frames), "version", *cfg.Image.Version)
}

// flash waits for the device to announce install mode, then streams every
// frame and checks the three per-frame acknowledgements.
func flash(ctx context.Context, port *simhal.SerialPort, keys bootcore.Keys, frames []bootcore.Frame, pageSize int, version uint16, fleet *fleetClient) error {
	mode, err := port.ReadByte(ctx)
	if err != nil {
		return fmt.Errorf("wait for mode byte: %w", err)
	}
	if mode != byte(bootcore.ModeInstallByte) {
		return fmt.Errorf("device is not in install mode, announced 0x%02X", mode)
	}
	slog.Debug("device entered install mode")

	for i := range frames {
		nonce, err := freshNonce(ctx, fleet)
		if err != nil {
			return err
		}
		tag, protected, err := bootcore.EncryptFrame(keys, &frames[i], pageSize, nonce)
		if err != nil {
			return fmt.Errorf("encrypt frame %d: %w", frames[i].FrameNo, err)
		}

		wire := make([]byte, 0, len(tag)+len(protected)+len(nonce))
		wire = append(wire, tag[:]...)
		wire = append(wire, protected...)
		wire = append(wire, nonce[:]...)
		for _, b := range wire {
			if err := port.WriteByte(ctx, b); err != nil {
				return fmt.Errorf("send frame %d: %w", frames[i].FrameNo, err)
			}
		}

		for _, name := range []string{"mac", "decrypt", "commit"} {
			status, err := port.ReadByte(ctx)
			if err != nil {
				return fmt.Errorf("frame %d %s ack: %w", frames[i].FrameNo, name, err)
			}
			if status != byte(bootcore.StatusOK) {
				reason := statusName(status)
				if err := fleet.reportProgress(ctx, i+1, len(frames), reason, fmt.Sprintf("frame %d refused at %s phase", frames[i].FrameNo, name), 0); err != nil {
					slog.Warn("fleet progress report failed", "error", err)
				}
				return fmt.Errorf("frame %d refused: device sent %s at %s phase", frames[i].FrameNo, reason, name)
			}
		}

		slog.Debug("frame committed", "frame_no", frames[i].FrameNo, "sent", i+1, "total", len(frames))
		if err := fleet.reportProgress(ctx, i+1, len(frames), "ok", "", 0); err != nil {
			slog.Warn("fleet progress report failed", "error", err)
		}
	}

	if err := fleet.reportProgress(ctx, len(frames), len(frames), "done", "", version); err != nil {
		slog.Warn("fleet progress report failed", "error", err)
	}
	return nil
}

// freshNonce generates nonces until fleetd accepts one, giving up after five
// refused attempts (with no fleet controller configured, the first nonce is
// used immediately).
func freshNonce(ctx context.Context, fleet *fleetClient) ([bootcore.NonceBytes]byte, error) {
	var nonce [bootcore.NonceBytes]byte
	for attempt := 0; attempt < 5; attempt++ {
		if _, err := rand.Read(nonce[:]); err != nil {
			return nonce, fmt.Errorf("generate nonce: %w", err)
		}
		ok, err := fleet.reserveNonce(ctx, nonce)
		if err != nil {
			return nonce, fmt.Errorf("reserve nonce: %w", err)
		}
		if ok {
			return nonce, nil
		}
	}
	return nonce, fmt.Errorf("could not reserve a fresh nonce after 5 attempts")
}

func statusName(status byte) string {
	switch bootcore.StatusByte(status) {
	case bootcore.StatusMACError:
		return "mac_error"
	case bootcore.StatusVersionError:
		return "version_error"
	default:
		return fmt.Sprintf("status_0x%02X", status)
	}
}
