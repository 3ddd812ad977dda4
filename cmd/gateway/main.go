package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/angeloszaimis/resilient-gateway/config"
	"github.com/angeloszaimis/resilient-gateway/internal/httpserver"
	"github.com/angeloszaimis/resilient-gateway/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gw, err := newGateway(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize gateway", slog.Any("err", err))
		os.Exit(1)
	}
	defer gw.Close()

	srv, err := httpserver.New(cfg.Server.Address, gw.Router(),
		httpserver.WithWriteTimeout(writeTimeout(cfg)),
		httpserver.WithShutdownTimeout(config.Duration(cfg.Server.ShutdownTimeout)))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Gateway listening",
		slog.String("address", cfg.Server.Address),
		slog.String("discovery", cfg.Discovery.Provider),
		slog.String("strategy", cfg.Strategy.Type))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting gateway", slog.Any("err", err))
			os.Exit(1)
		}
	}
}
