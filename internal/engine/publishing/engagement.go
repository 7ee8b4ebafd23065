package publishing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"contentflow/internal/engine/webhooks"
	"contentflow/internal/platform/database"

	"github.com/rs/zerolog/log"
)

// engagementWindow bounds how long after publishing a post's metrics are refreshed.
const engagementWindow = 30 * 24 * time.Hour

// RefreshEngagement stores a fresh metrics snapshot for recently published jobs whose
// platform reports them. Empty snapshots are skipped.
func (q *Queue) RefreshEngagement(ctx context.Context, tenantID string, db *sql.DB) (int, error) {
	t := q.tenant(tenantID, db)
	now := q.deps.Clock.Now()
	published, err := t.jobs.Published(ctx, now.Add(-engagementWindow).Unix(), q.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load published jobs: %w", err)
	}

	refreshed := 0
	for _, j := range published {
		adapter, ok := q.deps.Registry.Lookup(j.Platform)
		if !ok || !adapter.Capabilities().SupportsMetrics {
			if err := t.jobs.MarkMetricsChecked(ctx, db, j.ID, now.Unix()); err != nil {
				return refreshed, fmt.Errorf("mark %s checked: %w", j.ID, err)
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, q.cfg.AdapterTimeout)
		snapshot := adapter.Metrics(callCtx, j.PlatformPostID)
		cancel()
		if snapshot.Empty() {
			if err := t.jobs.MarkMetricsChecked(ctx, db, j.ID, now.Unix()); err != nil {
				return refreshed, fmt.Errorf("mark %s checked: %w", j.ID, err)
			}
			continue
		}
		snapshot.CollectedAt = now.Unix()

		err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
			if err := t.jobs.SaveMetrics(ctx, tx, j.ID, snapshot, now.Unix()); err != nil {
				return err
			}
			_, err := q.deps.Emitter.Emit(ctx, tx, tenantID, webhooks.EventEngagementUpdated, webhooks.EntityJob, j.ID, map[string]interface{}{
				"job_id":           j.ID,
				"post_id":          j.PostID,
				"platform":         j.Platform,
				"platform_post_id": j.PlatformPostID,
				"metrics":          snapshot,
			})
			return err
		})
		if err != nil {
			return refreshed, fmt.Errorf("store metrics for %s: %w", j.ID, err)
		}
		refreshed++
	}

	if refreshed > 0 {
		log.Info().Str("tenant_id", tenantID).Int("jobs", refreshed).Msg("engagement refreshed")
	}
	return refreshed, nil
}
