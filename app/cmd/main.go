package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tutor/app/server"
	"tutor/config"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if cfg.App.JWTSecret == "" {
		logger.Error("JWT_SECRET is not set")
		os.Exit(1)
	}

	s := server.NewServer(cfg, logger)

	errch := make(chan error, 1)
	go func() { errch <- s.Run() }()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigch:
		logger.Info("received shutdown signal, shutting down server")
	case err := <-errch:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}
	s.Stop()
}
