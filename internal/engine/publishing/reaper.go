package publishing

import (
	"context"
	"database/sql"
	"fmt"

	"contentflow/internal/engine/jobs"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/platform/database"

	"github.com/rs/zerolog/log"
)

// ReapStale recovers jobs left RUNNING by a worker that died mid-call. Jobs on idempotent
// adapters go back to PENDING; others cannot be retried safely and are failed for
// reconciliation. It returns the number of jobs recovered either way.
func (q *Queue) ReapStale(ctx context.Context, tenantID string, db *sql.DB) (int, error) {
	t := q.tenant(tenantID, db)
	now := q.deps.Clock.Now()
	stale, err := t.jobs.Stale(ctx, now.Add(-q.cfg.LeaseTimeout).Unix(), q.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load stale jobs: %w", err)
	}

	reaped := 0
	for _, j := range stale {
		if j.ClaimedAt == nil {
			continue
		}
		adapter, ok := q.deps.Registry.Lookup(j.Platform)
		idempotent := ok && adapter.Capabilities().Idempotent

		var out outcome
		err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
			var moved bool
			var err error
			switch {
			case idempotent && j.Attempts < j.MaxAttempts:
				out = outcome{status: jobs.StatusPending, kind: jobs.ErrorKindTimeout, msg: "worker lease expired", event: webhooks.EventPublishRetrying}
				moved, err = t.jobs.ReleaseStale(ctx, tx, j.ID, *j.ClaimedAt, now.Unix())
			case idempotent:
				out = outcome{status: jobs.StatusFailed, kind: jobs.ErrorKindTimeout, msg: "worker lease expired on the last attempt", event: webhooks.EventPublishFailed, alert: true}
				moved, err = t.jobs.FailStale(ctx, tx, j.ID, *j.ClaimedAt, out.kind, out.msg, now.Unix())
			default:
				out = outcome{
					status: jobs.StatusFailed,
					kind:   jobs.ErrorKindReconcile,
					msg:    fmt.Sprintf("worker lease expired during a call to %s; check the platform before retrying", j.Platform),
					event:  webhooks.EventPublishFailed,
					alert:  true,
				}
				moved, err = t.jobs.FailStale(ctx, tx, j.ID, *j.ClaimedAt, out.kind, out.msg, now.Unix())
			}
			if err != nil || !moved {
				out = outcome{}
				return err
			}
			_, err = q.deps.Emitter.Emit(ctx, tx, tenantID, out.event, webhooks.EntityJob, j.ID, map[string]interface{}{
				"job_id":     j.ID,
				"post_id":    j.PostID,
				"platform":   j.Platform,
				"attempt":    j.Attempts,
				"status":     out.status,
				"error_kind": out.kind,
				"error":      out.msg,
			})
			return err
		})
		if err != nil {
			return reaped, fmt.Errorf("reap job %s: %w", j.ID, err)
		}
		if out.status == "" {
			continue
		}

		reaped++
		log.Warn().Str("tenant_id", tenantID).Str("job_id", j.ID).Str("platform", j.Platform).
			Str("status", string(out.status)).Msg("reaped stale publish job")
		if out.alert {
			q.alert(ctx, tenantID, j, j.Attempts, out)
		}
	}
	return reaped, nil
}
