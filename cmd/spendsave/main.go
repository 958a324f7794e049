// Package main runs the spendsave service: the savings kernel, its query API
// and the deferred conversion scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/spendsave/internal/app"
	"github.com/R3E-Network/spendsave/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env", "", "Path to .env file loaded before the environment is read")
	flag.Parse()

	if v := os.Getenv("SPENDSAVE_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("spendsave stopped with error: %v", err)
	}
}
