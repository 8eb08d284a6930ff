package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/eddielth/ksysguardd-nvidia/cache"
	"github.com/eddielth/ksysguardd-nvidia/collector"
	"github.com/eddielth/ksysguardd-nvidia/config"
	"github.com/eddielth/ksysguardd-nvidia/fields"
	"github.com/eddielth/ksysguardd-nvidia/logger"
	"github.com/eddielth/ksysguardd-nvidia/mqtt"
	"github.com/eddielth/ksysguardd-nvidia/router"
	"github.com/eddielth/ksysguardd-nvidia/session"
	"github.com/eddielth/ksysguardd-nvidia/storage"
	"github.com/eddielth/ksysguardd-nvidia/transformer"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	flags := config.NewFlagSet(args[0])
	if err := flags.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	configPath, _ := flags.GetString(config.FlagConfig)

	cfg, err := config.LoadConfig(configPath, flags)
	if err != nil {
		logger.Error("failed to load configuration: %v", err)
		return 1
	}

	if err := logger.InitFromConfig(cfg.Logger.Level, cfg.Logger.FilePath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		logger.Error("failed to initialize logger: %v", err)
		return 1
	}
	defer logger.Close()

	transformerManager, err := transformer.NewManager(cfg.Fields)
	if err != nil {
		logger.Error("failed to load field scripts: %v", err)
		return 1
	}

	registry, err := fields.NewRegistry(fields.MergeSpecs(fields.NvidiaSpecs(), transformerManager.Specs())...)
	if err != nil {
		logger.Error("invalid field set: %v", err)
		return 1
	}
	logger.Info("serving %d fields per device from %s", registry.Len(), cfg.Collector.Command)

	col := collector.New(registry, collector.WithCommand(cfg.Collector.Command, cfg.Collector.Args...))
	snapshots := cache.New(col, cache.WithInterval(cfg.Collector.RefreshInterval))

	storageManager, err := storage.NewManagerFromConfig(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage: %v", err)
		return 1
	}
	defer storageManager.Close()

	if storageManager.Len() > 0 {
		snapshots.OnRefresh(func(capturedAt time.Time, snapshot *fields.Snapshot) {
			if err := storageManager.Store(capturedAt, snapshot); err != nil {
				logger.Warn("failed to export snapshot: %v", err)
			}
		})
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(cfg.MQTT)
		if err != nil {
			logger.Error("failed to initialize MQTT client: %v", err)
			return 1
		}
		if err := mqttClient.Connect(); err != nil {
			logger.Error("failed to connect to MQTT broker: %v", err)
			return 1
		}
		defer mqttClient.Disconnect()

		snapshots.OnRefresh(func(capturedAt time.Time, snapshot *fields.Snapshot) {
			if err := mqttClient.Publish(capturedAt, snapshot); err != nil {
				logger.Warn("failed to publish snapshot: %v", err)
			}
		})
	}

	if configPath != "" {
		err := config.WatchConfig(configPath, flags, func(newCfg *config.Config) error {
			return logger.SetLevel(newCfg.Logger.Level)
		})
		if err != nil {
			logger.Warn("failed to watch configuration file: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := session.New(os.Stdin, os.Stdout, snapshots, router.New(registry))
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("session ended: %v", err)
			return 1
		}
	case <-ctx.Done():
		// the session goroutine may be blocked reading stdin
		logger.Info("shutting down: %v", context.Cause(ctx))
	}
	return 0
}
