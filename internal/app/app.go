// Package app wires the pipeline's shared components from configuration. The server,
// worker and opsctl binaries all start from New.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"contentflow/internal/engine/platforms"
	"contentflow/internal/engine/publishing"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/engine/workflow"
	"contentflow/internal/platform/alerts"
	"contentflow/internal/platform/assets"
	"contentflow/internal/platform/audit"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/repositories"
	"contentflow/internal/platform/telemetry"

	"github.com/jonboulle/clockwork"
)

type App struct {
	Config     *config.Config
	Clock      clockwork.Clock
	GlobalDB   *sql.DB
	Tenants    *database.TenantDBPool
	Orgs       *repositories.OrganizationRepository
	Registry   *platforms.Registry
	Queue      *publishing.Queue
	Dispatcher *webhooks.Dispatcher
	Workflow   workflow.Deps
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	clock := clockwork.NewRealClock()

	globalDB, err := database.NewGlobalDB(cfg.Database.Global)
	if err != nil {
		return nil, fmt.Errorf("connect global db: %w", err)
	}

	registry, err := platforms.Build(ctx, cfg.Platforms, cfg.Publishing.AdapterTimeout)
	if err != nil {
		globalDB.Close()
		return nil, fmt.Errorf("build platform registry: %w", err)
	}

	resolver, err := assets.New(ctx, cfg.Assets)
	if err != nil {
		globalDB.Close()
		return nil, fmt.Errorf("asset resolver: %w", err)
	}

	cache, err := webhooks.NewCache(cfg.Webhooks.Cache, clock)
	if err != nil {
		globalDB.Close()
		return nil, err
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		globalDB.Close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	notifier := alerts.New(cfg.Alerts)
	emitter := webhooks.NewEmitter(clock)
	history := audit.NewLogger()

	return &App{
		Config:   cfg,
		Clock:    clock,
		GlobalDB: globalDB,
		Tenants:  database.NewTenantDBPool(cfg.Database.Tenant),
		Orgs:     repositories.NewOrganizationRepository(globalDB),
		Registry: registry,
		Queue: publishing.NewQueue(cfg.Publishing, publishing.Deps{
			Registry: registry,
			Resolver: resolver,
			Emitter:  emitter,
			History:  history,
			Alerts:   notifier,
			Clock:    clock,
			Metrics:  metrics,
		}),
		Dispatcher: webhooks.NewDispatcher(cfg.Webhooks, cache, notifier, clock, metrics),
		Workflow: workflow.Deps{
			Registry:    registry,
			Emitter:     emitter,
			History:     history,
			Clock:       clock,
			Metrics:     metrics,
			MaxAttempts: cfg.Publishing.MaxAttempts,
		},
	}, nil
}

// Tenant opens the database of one organization.
func (a *App) Tenant(orgID string) (*sql.DB, error) {
	org, err := a.Orgs.GetByID(orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, fmt.Errorf("organization %s not found", orgID)
	}
	return a.Tenants.Get(org.ID, org.DBFilePath)
}

func (a *App) Close() {
	a.Tenants.CloseAll()
	a.GlobalDB.Close()
}
