// Package main is the entry point for the IQ streaming service: one
// process per exercise's SDR feed, wiring SampleProducer → SignalMixer
// → RTLBroadcaster (C7-C9) and the control subscriber that reacts to
// MessageBus commands on the scenario's iq/control topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scip-range/exercise-orchestrator/internal/bus"
	"github.com/scip-range/exercise-orchestrator/internal/config"
	"github.com/scip-range/exercise-orchestrator/internal/events"
	"github.com/scip-range/exercise-orchestrator/internal/iq"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	scenario := flag.String("scenario", "", "scenario id this service streams for")
	iqFile := flag.String("iq-file", "", "path to the .iq sample file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *scenario == "" || *iqFile == "" {
		logger.Error("both -scenario and -iq-file are required")
		os.Exit(1)
	}

	if err := run(logger, *configPath, *scenario, *iqFile); err != nil {
		logger.Error("iq stream service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, scenario, iqFile string) error {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messageBus, err := bus.Connect(ctx, bus.Config{
		Broker:   cfg.MQTT.BrokerURL,
		ClientID: cfg.MQTT.ClientID + "-iq-" + scenario,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect message bus: %w", err)
	}
	defer messageBus.Close()

	producer, err := iq.LoadProducer(iqFile, cfg.IQ.DefaultSampleRate)
	if err != nil {
		return fmt.Errorf("load iq file %s: %w", iqFile, err)
	}
	producer.Play()

	mixer := iq.NewMixer(float64(cfg.IQ.DefaultSampleRate), 1)

	broadcaster, err := iq.NewBroadcaster(cfg.IQ.RTLListenAddress, logger)
	if err != nil {
		return fmt.Errorf("start rtl-tcp broadcaster: %w", err)
	}
	defer broadcaster.Close()
	go func() {
		if err := broadcaster.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("broadcaster serve stopped", "error", err)
		}
	}()

	pipeline := &iq.Pipeline{
		Producer:    producer,
		Mixer:       mixer,
		Broadcaster: broadcaster,
		Bus:         messageBus,
		Scenario:    scenario,
		Logger:      logger,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("iq stream service started",
		"scenario", scenario, "iq_file", iqFile,
		"sample_rate", cfg.IQ.DefaultSampleRate, "rtl_addr", cfg.IQ.RTLListenAddress,
	)
	eventBus := events.New()
	if err := pipeline.Run(ctx, eventBus); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	logger.Info("iq stream service stopped", "scenario", scenario)
	return nil
}
