package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/events"
	"github.com/mossy-p/call-signaling/internal/handlers"
	"github.com/mossy-p/call-signaling/internal/logger"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/signaling"
	"github.com/mossy-p/call-signaling/internal/store"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// backend is what the coordinator needs from a store.
type backend interface {
	signaling.RoomService
	signaling.CallService
	signaling.UserDirectory
}

func main() {
	// Load configuration
	cfg := config.Load()

	lg, err := logger.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer lg.Sync()

	if err := cfg.Validate(); err != nil {
		lg.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Room and call persistence
	var db backend
	if cfg.DatabaseURL != "" {
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			lg.Fatal("failed to migrate schema", zap.Error(err))
		}
		db = pg
		lg.Info("postgres connection established")
	} else {
		db = store.NewMemory()
		lg.Warn("DATABASE_URL not set, rooms and calls are kept in memory")
	}

	opts := signaling.Options{
		Calls:          db,
		Rooms:          db,
		Users:          db,
		Logger:         lg,
		ServiceTimeout: cfg.ServiceTimeout,
		ValidateSDP:    cfg.WebSocket.ValidateSDP,
	}

	// Presence mirror
	if cfg.Redis.Enabled {
		if err := redis.Connect(ctx, cfg.Redis); err != nil {
			lg.Warn("redis unavailable, presence is not mirrored", zap.Error(err))
		} else {
			defer redis.Close()
			opts.Presence = redis.NewPresence(redis.GetClient(), lg)
			lg.Info("redis connection established")
		}
	}

	// Call events
	if cfg.NatsURL != "" {
		nc, err := events.ConnectNATS(cfg.NatsURL, "call-signaling")
		if err != nil {
			lg.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer nc.Close()
		opts.Events = nc
		lg.Info("nats connection established", zap.String("url", cfg.NatsURL))
	} else {
		opts.Events = events.Noop{}
	}

	coord := signaling.New(opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(cfg, coord, lg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("starting signaling server", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by the server, so close
	// them through the coordinator and give the pumps time to clean up.
	coord.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server shutdown failed", zap.Error(err))
	}
	for coord.ConnectionCount() > 0 && shutdownCtx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}
	lg.Info("server stopped", zap.Int("remaining_connections", coord.ConnectionCount()))
}
