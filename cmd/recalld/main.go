// Command recalld serves the agent memory API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/agenttown/recall/pkg/config"
	"github.com/agenttown/recall/pkg/log"
	"github.com/agenttown/recall/pkg/recall"
	"github.com/agenttown/recall/pkg/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "recalld: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := recall.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to assemble memory subsystem: %w", err)
	}
	defer client.Close()

	log.Info("Memory subsystem ready",
		"backend", client.Mode(),
		"degraded", client.Degraded(),
		"dimensions", cfg.Index.Dimensions)

	return server.New(client, cfg.Server).Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		// No file: .env plus RECALL_* overrides on top of defaults
		_ = godotenv.Load()
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}
