package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contentflow/internal/api"
	"contentflow/internal/api/handlers"
	"contentflow/internal/api/middleware"
	"contentflow/internal/app"
	"contentflow/internal/pkg/logger"
	"contentflow/internal/platform/auth"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	tokenSvc := auth.NewTokenService(cfg.JWT)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, a.Clock)
	go sweepLimiter(ctx, rateLimiter)

	router := api.NewRouter(&api.Dependencies{
		OrgHandler:       handlers.NewOrgHandler(a.Orgs),
		PostHandler:      handlers.NewPostHandler(a.Workflow),
		JobHandler:       handlers.NewJobHandler(a.Queue),
		PlatformHandler:  handlers.NewPlatformHandler(a.Registry),
		WebhookHandler:   handlers.NewWebhookHandler(a.Dispatcher),
		HealthHandler:    handlers.NewHealthHandler(database.NewGlobalDBWrapper(a.GlobalDB), a.Registry, a.Clock),
		AuthMiddleware:   middleware.NewAuthMiddleware(tokenSvc),
		TenantMiddleware: middleware.NewTenantMiddleware(a.Orgs, a.Tenants),
		RateLimiter:      rateLimiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Strs("platforms", a.Registry.Platforms()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func sweepLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				log.Debug().Int("buckets", n).Msg("idle rate limit buckets dropped")
			}
		}
	}
}
