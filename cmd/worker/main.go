package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contentflow/internal/app"
	"contentflow/internal/pkg/logger"
	"contentflow/internal/platform/config"
	"contentflow/internal/workers"

	"github.com/rs/zerolog/log"
)

// Each scheduled pass across all tenants must finish within this window.
const passTimeout = 5 * time.Minute

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)
	log.Info().Msg("starting contentflow background workers")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	runner := workers.NewRunner(a.Orgs, a.Tenants, a.Queue, a.Dispatcher)
	c := workers.NewCron()
	if err := runner.Schedule(ctx, c, cfg, passTimeout); err != nil {
		log.Fatal().Err(err).Msg("invalid schedule")
	}
	c.Start()

	<-ctx.Done()
	log.Info().Msg("stopping workers")
	// wait for running passes; their contexts are already cancelled
	<-c.Stop().Done()
}
