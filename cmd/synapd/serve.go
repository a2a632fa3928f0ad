package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hivellm/synap/internal/engine"
	"github.com/hivellm/synap/pkg/config"
	"github.com/hivellm/synap/pkg/log"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot the engine and its persistence sink, and run until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "./data", "directory the bolt persistence sink writes under when sink.path is unset (created at startup for every sink kind)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
		cfg.Log.JSON = true
	}
	log.Init(log.Config{Level: cfg.LogLevel(), JSONOutput: cfg.Log.JSON})

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	eng, err := engine.New(cfg, dataDir)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.StartBackgroundLoops()

	logger := log.WithComponent("synapd")
	logger.Info().Str("sink", cfg.Sink.Kind).Int("shards", cfg.Shards).Msg("synapd is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	if err := eng.Shutdown(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
