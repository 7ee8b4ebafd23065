package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contentflow/internal/engine/publishing"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Organizations lists the tenants background work fans out to.
type Organizations interface {
	List() ([]*models.Organization, error)
}

// TenantDBs opens (or returns the pooled) database of one tenant.
type TenantDBs interface {
	Get(orgID, dbPath string) (*sql.DB, error)
}

// Runner drives the pipeline's periodic work across every tenant database.
type Runner struct {
	orgs       Organizations
	dbs        TenantDBs
	queue      *publishing.Queue
	dispatcher *webhooks.Dispatcher
}

func NewRunner(orgs Organizations, dbs TenantDBs, queue *publishing.Queue, dispatcher *webhooks.Dispatcher) *Runner {
	return &Runner{orgs: orgs, dbs: dbs, queue: queue, dispatcher: dispatcher}
}

// ForEachTenant runs fn against every tenant database. A failing tenant is logged and
// does not stop the others; the combined error is returned.
func (r *Runner) ForEachTenant(ctx context.Context, task string, fn func(ctx context.Context, tenantID string, db *sql.DB) error) error {
	orgs, err := r.orgs.List()
	if err != nil {
		return fmt.Errorf("%s: list organizations: %w", task, err)
	}

	var errs []error
	for _, org := range orgs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		db, err := r.dbs.Get(org.ID, org.DBFilePath)
		if err != nil {
			log.Error().Err(err).Str("task", task).Str("tenant_id", org.ID).Msg("failed to open tenant database")
			errs = append(errs, fmt.Errorf("%s: tenant %s: %w", task, org.ID, err))
			continue
		}
		if err := fn(ctx, org.ID, db); err != nil {
			log.Error().Err(err).Str("task", task).Str("tenant_id", org.ID).Msg("tenant task failed")
			errs = append(errs, fmt.Errorf("%s: tenant %s: %w", task, org.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) PublishDue(ctx context.Context) error {
	return r.ForEachTenant(ctx, "publish", func(ctx context.Context, tenantID string, db *sql.DB) error {
		n, err := r.queue.Tick(ctx, tenantID, db)
		if n > 0 {
			log.Debug().Str("tenant_id", tenantID).Int("jobs", n).Msg("publish tick")
		}
		return err
	})
}

func (r *Runner) ReapStale(ctx context.Context) error {
	return r.ForEachTenant(ctx, "reap", func(ctx context.Context, tenantID string, db *sql.DB) error {
		if _, err := r.queue.ReapStale(ctx, tenantID, db); err != nil {
			return err
		}
		_, err := r.dispatcher.ReapStale(ctx, db)
		return err
	})
}

func (r *Runner) DispatchWebhooks(ctx context.Context) error {
	return r.ForEachTenant(ctx, "webhooks", r.dispatcher.Run)
}

func (r *Runner) RefreshEngagement(ctx context.Context) error {
	return r.ForEachTenant(ctx, "engagement", func(ctx context.Context, tenantID string, db *sql.DB) error {
		_, err := r.queue.RefreshEngagement(ctx, tenantID, db)
		return err
	})
}

// NewCron returns a scheduler that skips a run while the previous one is still going.
func NewCron() *cron.Cron {
	logger := cronLogger{}
	return cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
}

// Schedule registers the periodic tasks on c. Each run gets its own deadline of timeout.
func (r *Runner) Schedule(ctx context.Context, c *cron.Cron, cfg *config.Config, timeout time.Duration) error {
	tasks := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"publish", cfg.Publishing.PollSchedule, r.PublishDue},
		{"webhooks", cfg.Webhooks.DispatchSchedule, r.DispatchWebhooks},
		{"reap", cfg.Publishing.ReapSchedule, r.ReapStale},
		{"engagement", cfg.Publishing.MetricsSchedule, r.RefreshEngagement},
	}

	for _, task := range tasks {
		task := task
		_, err := c.AddFunc(task.spec, func() {
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := task.fn(runCtx); err != nil {
				log.Error().Err(err).Str("task", task.name).Msg("scheduled task finished with errors")
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", task.name, task.spec, err)
		}
		log.Info().Str("task", task.name).Str("schedule", task.spec).Msg("task scheduled")
	}
	return nil
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
