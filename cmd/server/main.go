package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veilchat/veilchat/internal/server"
	"github.com/veilchat/veilchat/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	// Storage initialization is the one process-fatal failure.
	store, err := storage.OpenBadger(cfg.BadgerPath, log)
	if err != nil {
		log.Error("failed to open message store", "path", cfg.BadgerPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	service := server.NewChatService(cfg, store, log)
	service.Start()

	httpServer := server.CreateServer(cfg.Port, service.SetupRoutes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, log)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
		}
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, log); err != nil {
		log.Warn("HTTP shutdown did not complete cleanly", "error", err)
	}
	if err := service.Shutdown(shutdownTimeout); err != nil {
		log.Warn("hub shutdown did not complete cleanly", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
