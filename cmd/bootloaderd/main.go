package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/barnettlynn/secbootloader/cmd/bootloaderd/internal/config"
	"github.com/barnettlynn/secbootloader/pkg/bootcore"
	"github.com/barnettlynn/secbootloader/pkg/simhal"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "config.yaml", "path to config file")
	modeFlag := flag.String("mode", "", "override configured mode: install, readback, or boot")
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

	mode := cfg.Runtime.Mode
	if *modeFlag != "" {
		mode = *modeFlag
	}
	var strapMode bootcore.Mode
	switch mode {
	case "install":
		strapMode = bootcore.ModeInstall
	case "readback":
		strapMode = bootcore.ModeReadback
	case "boot":
		strapMode = bootcore.ModeBoot
	default:
		log.Fatalf("invalid mode %q", mode)
	}

	keys, err := bootcore.LoadKeys(cfg.Keys.UpdateKeyHexFile, cfg.Keys.ReadbackKeyHexFile, nil)
	if err != nil {
		log.Fatalf("load keys: %v", err)
	}

	store, err := simhal.OpenStore(cfg.Store.Path, *cfg.Store.PageSize, *cfg.Store.MemorySize)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	host, err := simhal.OpenSerial(cfg.Serial.HostDevice, *cfg.Serial.HostBaud)
	if err != nil {
		log.Fatalf("open host serial: %v", err)
	}
	defer host.Close()

	var app bootcore.SerialChannel
	if cfg.Serial.AppDevice != "" {
		appPort, err := simhal.OpenSerial(cfg.Serial.AppDevice, *cfg.Serial.AppBaud)
		if err != nil {
			log.Fatalf("open app serial: %v", err)
		}
		defer appPort.Close()
		app = appPort
	} else {
		app = simhal.WriterChannel{W: os.Stdout}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := &bootcore.Controller{
		Host:   host,
		App:    app,
		Store:  store,
		WD:     simhal.NewWatchdog(),
		Straps: simhal.FixedStraps{Mode: strapMode},
		Keys:   keys,
		Jump: func() {
			slog.Info("transferring control to application at reset vector")
		},
	}

	slog.Info("bootloader session starting", "mode", strapMode.String(), "host", cfg.Serial.HostDevice)
	err = ctrl.Run(ctx)
	switch {
	case err == nil:
		slog.Info("session complete")
	case errors.Is(err, bootcore.ErrWatchdogReset):
		slog.Warn("session ended in watchdog reset")
		os.Exit(2)
	case errors.Is(err, context.Canceled):
		slog.Info("session cancelled")
	default:
		log.Fatalf("session failed: %v", err)
	}
}
