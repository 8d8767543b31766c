// Command strata runs the two-tier key/value cache server.
//
// Usage:
//
//	strata [config-file]
//
// The single optional argument is the path to the JSON configuration file,
// defaulting to config.json in the working directory. The process exits 0 on
// clean termination and 1 on startup failure.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dreamware/strata/internal/bus"
	"github.com/dreamware/strata/internal/config"
	"github.com/dreamware/strata/internal/coordinator"
	"github.com/dreamware/strata/internal/server"
	"github.com/dreamware/strata/internal/storage"
)

const defaultConfigPath = "config.json"

func main() {
	app := &cli.App{
		Name:      "strata",
		Usage:     "two-tier key/value cache served over a unix socket",
		ArgsUsage: "[config-file]",
		Action:    run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "strata: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configPath := defaultConfigPath
	if c.Args().Len() > 0 {
		configPath = c.Args().First()
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded",
		zap.String("configFile", configPath),
		zap.Int("maxSizeMB", cfg.RAM.MaxSizeMB),
		zap.String("dbFile", cfg.Disk.DBFile),
		zap.String("socketPath", cfg.Socket.SocketPath))

	disk, err := storage.OpenDiskTier(cfg.Disk.DBFile, log)
	if err != nil {
		return err
	}

	b := bus.New(bus.DefaultWorkers, log)
	mem := storage.NewMemoryTier(cfg.RAM.MaxSizeMB, storage.DefaultReapInterval, log)

	if err := mem.RegisterHandlers(b); err != nil {
		return err
	}
	if err := disk.RegisterHandlers(b); err != nil {
		return err
	}
	if err := coordinator.New(b, log).RegisterHandlers(); err != nil {
		return err
	}

	srv := server.New(cfg.Socket.SocketPath, b, log)
	if err := srv.Start(); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	// Stop taking requests, drain the bus, then tear the tiers down.
	srv.Close()
	b.Close()
	mem.Stop()
	if err := disk.Close(); err != nil {
		log.Error("disk tier close failed", zap.Error(err))
	}

	log.Info("stopped")
	return nil
}
