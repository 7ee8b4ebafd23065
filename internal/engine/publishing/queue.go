package publishing

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"contentflow/internal/engine/jobs"
	"contentflow/internal/engine/platforms"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/engine/workflow"
	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/pkg/retry"
	"contentflow/internal/platform/alerts"
	"contentflow/internal/platform/assets"
	"contentflow/internal/platform/audit"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/telemetry"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type Deps struct {
	Registry *platforms.Registry
	Resolver assets.Resolver
	Emitter  *webhooks.Emitter
	History  *audit.Logger
	Alerts   alerts.Notifier
	Clock    clockwork.Clock
	Metrics  *telemetry.Metrics
}

// Queue executes publish jobs. All state lives in the tenant database; the queue itself
// holds only configuration and shared clients.
type Queue struct {
	cfg  config.PublishingConfig
	deps Deps
}

func NewQueue(cfg config.PublishingConfig, deps Deps) *Queue {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Emitter == nil {
		deps.Emitter = webhooks.NewEmitter(deps.Clock)
	}
	if deps.History == nil {
		deps.History = audit.NewLogger()
	}
	if deps.Registry == nil {
		deps.Registry = platforms.NewRegistry()
	}
	if deps.Resolver == nil {
		deps.Resolver = assets.NewStaticResolver("")
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 20
	}
	return &Queue{cfg: cfg, deps: deps}
}

// tenant bundles the per-database collaborators for one pass.
type tenant struct {
	id    string
	db    *sql.DB
	jobs  *jobs.Repository
	posts *workflow.Repository
	flow  *workflow.Service
}

func (q *Queue) tenant(tenantID string, db *sql.DB) *tenant {
	return &tenant{
		id:    tenantID,
		db:    db,
		jobs:  jobs.NewRepository(db),
		posts: workflow.NewRepository(db),
		flow: workflow.NewService(db, tenantID, workflow.Deps{
			Registry:    q.deps.Registry,
			Emitter:     q.deps.Emitter,
			History:     q.deps.History,
			Clock:       q.deps.Clock,
			Metrics:     q.deps.Metrics,
			MaxAttempts: q.cfg.MaxAttempts,
		}),
	}
}

// Tick processes up to one batch of due jobs for a tenant and returns how many it picked up.
func (q *Queue) Tick(ctx context.Context, tenantID string, db *sql.DB) (int, error) {
	t := q.tenant(tenantID, db)
	due, err := t.jobs.Due(ctx, q.deps.Clock.Now().Unix(), q.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load due jobs: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.WorkerCount)
	for _, j := range due {
		j := j
		g.Go(func() error {
			if err := q.process(gctx, t, j); err != nil {
				log.Error().Err(err).Str("tenant_id", tenantID).Str("job_id", j.ID).Msg("publish job bookkeeping failed")
			}
			return nil
		})
	}
	g.Wait()
	return len(due), nil
}

func (q *Queue) process(ctx context.Context, t *tenant, job *jobs.Job) error {
	ctx, span := telemetry.StartSpan(ctx, "publishing.process",
		attribute.String("job_id", job.ID), attribute.String("platform", job.Platform))
	defer span.End()

	post, err := t.posts.Get(ctx, t.db, job.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		return fmt.Errorf("post %s of job %s not found", job.PostID, job.ID)
	}

	adapter, ok := q.deps.Registry.Lookup(job.Platform)
	if !ok {
		return q.failValidation(ctx, t, job, fmt.Sprintf("no adapter registered for %s", job.Platform), nil)
	}

	req := post.PublishRequest(job.Platform)
	req.JobID = job.ID
	req.IdempotencyKey = job.IdempotencyKey

	if res := adapter.Validate(req); !res.Valid {
		return q.failValidation(ctx, t, job, res.Err().Error(), res.Errors)
	}

	var attempt int
	claimed := false
	err = database.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		n, ok, err := t.jobs.Claim(ctx, tx, job.ID, q.deps.Clock.Now().Unix())
		if err != nil || !ok {
			return err
		}
		attempt, claimed = n, true
		_, err = t.flow.MarkPublishingTx(ctx, tx, job.PostID)
		return err
	})
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !claimed {
		log.Debug().Str("job_id", job.ID).Msg("job claimed elsewhere or not due")
		return nil
	}
	q.deps.Metrics.RecordPublishAttempt(ctx, job.Platform)

	started := q.deps.Clock.Now()
	result, pubErr := q.publish(ctx, adapter, req)
	took := q.deps.Clock.Since(started)

	return q.record(ctx, t, job, adapter, attempt, result, pubErr, took)
}

// publish resolves media and calls the adapter under the adapter timeout.
func (q *Queue) publish(ctx context.Context, adapter platforms.Adapter, req *platforms.PublishRequest) (*platforms.PublishResult, error) {
	for i := range req.Media {
		url, err := q.deps.Resolver.Resolve(ctx, req.Media[i].Key)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindAdapter, err, "resolve asset %s", req.Media[i].Key)
		}
		req.Media[i].URL = url
	}

	callCtx, cancel := context.WithTimeout(ctx, q.cfg.AdapterTimeout)
	defer cancel()

	result, err := adapter.Publish(callCtx, req)
	if err != nil {
		if apperrors.KindOf(err) == "" && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = apperrors.Wrap(apperrors.KindTimeout, err, "%s did not answer within %s", req.Platform, q.cfg.AdapterTimeout)
		}
		return nil, err
	}
	if result == nil || !result.Success {
		return nil, apperrors.New(apperrors.KindAdapter, "%s reported an unsuccessful publish", req.Platform)
	}
	return result, nil
}

type outcome struct {
	status jobs.Status
	kind   string
	msg    string
	event  string
	alert  bool
}

// record applies the result of one attempt. The post's current status is read in the
// same transaction so a concurrent cancel is honoured.
func (q *Queue) record(ctx context.Context, t *tenant, job *jobs.Job, adapter platforms.Adapter, attempt int,
	result *platforms.PublishResult, pubErr error, took time.Duration) error {

	// the remote call already happened; its outcome is written even if the pass is cancelled
	ctx = context.WithoutCancel(ctx)

	var out outcome
	err := database.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		post, err := t.posts.Get(ctx, tx, job.PostID)
		if err != nil {
			return err
		}
		now := q.deps.Clock.Now()
		payload := map[string]interface{}{
			"job_id":   job.ID,
			"post_id":  job.PostID,
			"platform": job.Platform,
			"attempt":  attempt,
		}

		var ok bool
		switch {
		case pubErr == nil && result.ManualActionRequired && post != nil && post.Status == workflow.StatusArchived:
			out = outcome{status: jobs.StatusCancelled, kind: jobs.ErrorKindCancelled, event: webhooks.EventPublishFailed,
				msg: "post archived before manual hand-off"}
			ok, err = t.jobs.Finish(ctx, tx, job.ID, out.status, out.kind, out.msg, now.Unix())
			payload["error_kind"] = out.kind
			payload["error"] = out.msg

		case pubErr == nil && result.ManualActionRequired:
			out = outcome{status: jobs.StatusAwaitingManual, event: webhooks.EventPublishAwaitingManual}
			ok, err = t.jobs.AwaitManual(ctx, tx, job.ID, result.Metadata["instructions"], now.Unix())
			payload["metadata"] = result.Metadata

		case pubErr == nil:
			out = outcome{status: jobs.StatusSucceeded, event: webhooks.EventPublishSucceeded}
			ok, err = t.jobs.Succeed(ctx, tx, job.ID, result.PlatformPostID, now.Unix())
			payload["platform_post_id"] = result.PlatformPostID
			if result.URL != "" {
				payload["url"] = result.URL
			}

		default:
			out = q.classifyFailure(post, adapter, job, attempt, pubErr)
			if out.status == jobs.StatusPending {
				next := now.Add(retry.Backoff(attempt, q.cfg.BackoffBase, q.cfg.BackoffMax))
				ok, err = t.jobs.Retry(ctx, tx, job.ID, out.kind, out.msg, next.Unix(), now.Unix())
				payload["next_retry_at"] = next.Unix()
			} else {
				ok, err = t.jobs.Finish(ctx, tx, job.ID, out.status, out.kind, out.msg, now.Unix())
			}
			payload["error_kind"] = out.kind
			payload["error"] = out.msg
		}
		if err != nil {
			return err
		}
		if !ok {
			// the reaper released the job while the adapter was running
			log.Warn().Str("job_id", job.ID).Msg("job no longer RUNNING, outcome discarded")
			out = outcome{}
			return nil
		}

		payload["status"] = out.status
		if _, err := q.deps.Emitter.Emit(ctx, tx, t.id, out.event, webhooks.EntityJob, job.ID, payload); err != nil {
			return err
		}
		if out.status == jobs.StatusSucceeded {
			_, err = t.flow.MarkDeliveredIfCompleteTx(ctx, tx, job.PostID)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if out.status == "" {
		return nil
	}

	q.deps.Metrics.RecordPublishOutcome(ctx, job.Platform, string(out.status), took)
	ev := log.Info()
	if pubErr != nil {
		ev = log.Warn().Err(pubErr)
	}
	ev.Str("tenant_id", t.id).Str("job_id", job.ID).Str("platform", job.Platform).Int("attempt", attempt).
		Str("status", string(out.status)).Dur("took", took).Msg("publish attempt finished")

	if out.alert {
		q.alert(ctx, t.id, job, attempt, out)
	}
	return nil
}

func (q *Queue) classifyFailure(post *workflow.Post, adapter platforms.Adapter, job *jobs.Job, attempt int, err error) outcome {
	kind := jobs.ErrorKindAdapter
	if apperrors.KindOf(err) == apperrors.KindTimeout {
		kind = jobs.ErrorKindTimeout
	}
	msg := err.Error()

	switch {
	case post != nil && post.Status == workflow.StatusArchived:
		return outcome{status: jobs.StatusCancelled, kind: jobs.ErrorKindCancelled, msg: "post archived: " + msg, event: webhooks.EventPublishFailed}
	case kind == jobs.ErrorKindTimeout && !adapter.Capabilities().Idempotent:
		// the platform may have published; a retry could post twice
		return outcome{
			status: jobs.StatusFailed,
			kind:   jobs.ErrorKindReconcile,
			msg:    fmt.Sprintf("timed out on %s, which cannot deduplicate; check the platform before retrying: %s", job.Platform, msg),
			event:  webhooks.EventPublishFailed,
			alert:  true,
		}
	case apperrors.IsRetryable(err) && !platforms.IsPermanent(err) && attempt < job.MaxAttempts:
		return outcome{status: jobs.StatusPending, kind: kind, msg: msg, event: webhooks.EventPublishRetrying}
	default:
		return outcome{status: jobs.StatusFailed, kind: kind, msg: msg, event: webhooks.EventPublishFailed, alert: true}
	}
}

func (q *Queue) failValidation(ctx context.Context, t *tenant, job *jobs.Job, msg string, fields []apperrors.FieldError) error {
	err := database.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		ok, err := t.jobs.FailValidation(ctx, tx, job.ID, msg, q.deps.Clock.Now().Unix())
		if err != nil || !ok {
			return err
		}
		_, err = q.deps.Emitter.Emit(ctx, tx, t.id, webhooks.EventPublishFailed, webhooks.EntityJob, job.ID, map[string]interface{}{
			"job_id":     job.ID,
			"post_id":    job.PostID,
			"platform":   job.Platform,
			"status":     jobs.StatusFailed,
			"error_kind": jobs.ErrorKindValidation,
			"error":      msg,
			"fields":     fields,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("fail validation: %w", err)
	}
	log.Warn().Str("tenant_id", t.id).Str("job_id", job.ID).Str("platform", job.Platform).Str("error", msg).Msg("publish job failed validation")
	return nil
}

func (q *Queue) alert(ctx context.Context, tenantID string, job *jobs.Job, attempt int, out outcome) {
	if q.deps.Alerts == nil {
		return
	}
	subject := fmt.Sprintf("publish to %s failed", job.Platform)
	body := fmt.Sprintf("Tenant %s, post %s, job %s failed after %d attempt(s).\nKind: %s\nError: %s",
		tenantID, job.PostID, job.ID, attempt, out.kind, out.msg)
	if err := q.deps.Alerts.Alert(ctx, subject, body); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("failed to send publish alert")
	}
}
