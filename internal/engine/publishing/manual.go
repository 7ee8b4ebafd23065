package publishing

import (
	"context"
	"database/sql"

	"contentflow/internal/engine/jobs"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/engine/workflow"
	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/platform/database"

	"github.com/rs/zerolog/log"
)

// ConfirmManual records that a human published an AWAITING_MANUAL job.
func (q *Queue) ConfirmManual(ctx context.Context, tenantID string, db *sql.DB, actor, jobID, platformPostID string) (*jobs.Job, error) {
	t := q.tenant(tenantID, db)

	var confirmed *jobs.Job
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		j, err := t.jobs.Get(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j == nil {
			return apperrors.NotFound("job", jobID)
		}
		if j.Status != jobs.StatusAwaitingManual {
			return apperrors.New(apperrors.KindInvalidTransition, "job %s is %s, not AWAITING_MANUAL", jobID, j.Status)
		}

		ok, err := t.jobs.ConfirmManual(ctx, tx, jobID, platformPostID, q.deps.Clock.Now().Unix())
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.New(apperrors.KindInvalidTransition, "job %s changed concurrently", jobID)
		}
		_, err = q.deps.Emitter.Emit(ctx, tx, tenantID, webhooks.EventPublishSucceeded, webhooks.EntityJob, jobID, map[string]interface{}{
			"job_id":           jobID,
			"post_id":          j.PostID,
			"platform":         j.Platform,
			"status":           jobs.StatusSucceeded,
			"platform_post_id": platformPostID,
			"confirmed_by":     actor,
		})
		if err != nil {
			return err
		}
		if _, err := t.flow.MarkDeliveredIfCompleteTx(ctx, tx, j.PostID); err != nil {
			return err
		}
		confirmed, err = t.jobs.Get(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("tenant_id", tenantID).Str("job_id", jobID).Str("actor", actor).Msg("manual publish confirmed")
	return confirmed, nil
}

// RetryFailed gives a FAILED job a fresh set of attempts while its post is still being
// published.
func (q *Queue) RetryFailed(ctx context.Context, tenantID string, db *sql.DB, actor, jobID string) (*jobs.Job, error) {
	t := q.tenant(tenantID, db)

	var requeued *jobs.Job
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		j, err := t.jobs.Get(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if j == nil {
			return apperrors.NotFound("job", jobID)
		}
		if j.Status != jobs.StatusFailed {
			return apperrors.New(apperrors.KindInvalidTransition, "job %s is %s; only FAILED jobs can be retried", jobID, j.Status)
		}
		post, err := t.posts.Get(ctx, tx, j.PostID)
		if err != nil {
			return err
		}
		if post == nil || (post.Status != workflow.StatusPublishing && post.Status != workflow.StatusScheduled) {
			status := "missing"
			if post != nil {
				status = string(post.Status)
			}
			return apperrors.New(apperrors.KindInvalidTransition, "post %s is %s; jobs can only be retried while publishing", j.PostID, status)
		}

		now := q.deps.Clock.Now().Unix()
		ok, err := t.jobs.Requeue(ctx, tx, jobID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.New(apperrors.KindInvalidTransition, "job %s changed concurrently", jobID)
		}
		_, err = q.deps.Emitter.Emit(ctx, tx, tenantID, webhooks.EventPublishRetrying, webhooks.EntityJob, jobID, map[string]interface{}{
			"job_id":        jobID,
			"post_id":       j.PostID,
			"platform":      j.Platform,
			"status":        jobs.StatusPending,
			"next_retry_at": now,
			"requested_by":  actor,
		})
		if err != nil {
			return err
		}
		requeued, err = t.jobs.Get(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("tenant_id", tenantID).Str("job_id", jobID).Str("actor", actor).Msg("failed job requeued")
	return requeued, nil
}
