package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/barnettlynn/secbootloader/internal/fleet"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
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

	// Local development settings come from .env; in deployment the
	// environment is already populated and the file is simply absent.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	listenAddr := envOr("FLEET_LISTEN", ":8700")
	redisAddr := envOr("FLEET_REDIS_ADDR", "localhost:6379")
	databaseURL := os.Getenv("FLEET_DATABASE_URL")
	spiffeSocket := os.Getenv("FLEET_SPIFFE_SOCKET")
	trustDomain := envOr("FLEET_TRUST_DOMAIN", "fleet.local")

	if databaseURL == "" {
		log.Fatal("FLEET_DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audit := fleet.NewAuditStore(db)
	if err := audit.Migrate(ctx); err != nil {
		log.Fatalf("migrate audit store: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis at %s: %v", redisAddr, err)
	}
	nonces := fleet.NewNonceRegistry(fleet.NewRedisNonceClient(rdb), "", 30*24*time.Hour)

	server := fleet.NewServer(audit, nonces, fleet.NewHub())

	var mtls *fleet.TLSListenConfig
	if spiffeSocket != "" {
		mtls, err = fleet.StationMTLS(spiffeSocket, trustDomain)
		if err != nil {
			log.Fatalf("station mTLS setup: %v", err)
		}
		defer mtls.Close()
	}

	slog.Info("fleetd listening", "addr", listenAddr, "mtls", mtls != nil)
	if err := server.Serve(ctx, listenAddr, mtls); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
