// Package main is the entry point for the exercise orchestrator's
// control surface: the registry, the MessageBus/StatusStore/Launcher
// wiring, and the HTTP API of §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scip-range/exercise-orchestrator/internal/api"
	"github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/config"
	"github.com/scip-range/exercise-orchestrator/internal/engine"
	"github.com/scip-range/exercise-orchestrator/internal/events"
	"github.com/scip-range/exercise-orchestrator/internal/launcher"
	"github.com/scip-range/exercise-orchestrator/internal/statusstore"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger, *configPath); err != nil {
		logger.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath string) error {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"scenarios_root", cfg.ScenariosRoot,
		"listen_port", cfg.Listen.Port,
		"mqtt_broker", cfg.MQTT.BrokerURL,
		"redis_address", cfg.Redis.Address,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messageBus, err := bus.Connect(ctx, bus.Config{
		Broker:   cfg.MQTT.BrokerURL,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}
	defer messageBus.Close()

	statusStore := statusstore.NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}))

	dockerLauncher, err := launcher.NewDockerLauncher(cfg.Docker.Network, cfg.Docker.Host, logger)
	if err != nil {
		return fmt.Errorf("connect docker launcher: %w", err)
	}

	eventBus := events.New()

	registry := engine.NewRegistry(engine.Deps{
		ScenariosRoot: cfg.ScenariosRoot,
		Bus:           messageBus,
		Store:         statusStore,
		Launcher:      dockerLauncher,
		Events:        eventBus,
		Logger:        logger,
	})

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, registry, eventBus, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
		for _, id := range registry.ScenarioIDs() {
			if e, ok := registry.Get(id); ok {
				if err := e.Stop(shutdownCtx); err != nil {
					logger.Warn("stop scenario on shutdown", "scenario", id, "error", err)
				}
			}
		}
	}()

	logger.Info("starting exercise orchestrator")
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("control surface: %w", err)
		}
	}

	logger.Info("exercise orchestrator stopped")
	return nil
}
