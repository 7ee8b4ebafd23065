package webhooks

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/pkg/retry"
	"contentflow/internal/platform/alerts"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/models"
	"contentflow/internal/platform/repositories"
	"contentflow/internal/platform/telemetry"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Dispatcher turns recorded events into signed HTTP deliveries. Every delivery is a row
// with persisted attempt state, so nothing is lost across restarts.
type Dispatcher struct {
	cfg     config.WebhooksConfig
	cache   SubscriberCache
	client  *http.Client
	alerts  alerts.Notifier
	clock   clockwork.Clock
	metrics *telemetry.Metrics
}

func NewDispatcher(cfg config.WebhooksConfig, cache SubscriberCache, notifier alerts.Notifier, clock clockwork.Clock, metrics *telemetry.Metrics) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		cfg:     cfg,
		cache:   cache,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		alerts:  notifier,
		clock:   clock,
		metrics: metrics,
	}
}

// Run fans out new events and then attempts every due delivery for one tenant.
func (d *Dispatcher) Run(ctx context.Context, tenantID string, db *sql.DB) error {
	if _, err := d.FanOut(ctx, tenantID, db); err != nil {
		return fmt.Errorf("fan out: %w", err)
	}
	if _, err := d.Deliver(ctx, tenantID, db); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	return nil
}

// Subscribers returns the tenant's active subscribers, read through the cache.
func (d *Dispatcher) Subscribers(ctx context.Context, tenantID string, db *sql.DB) ([]*models.WebhookSubscriber, error) {
	if subs, ok := d.cache.Get(ctx, tenantID); ok {
		return subs, nil
	}
	subs, err := repositories.NewWebhookRepository(db).ListActive(ctx)
	if err != nil {
		return nil, err
	}
	d.cache.Set(ctx, tenantID, subs)
	return subs, nil
}

// InvalidateSubscribers drops the cached subscriber list after a subscriber changes.
func (d *Dispatcher) InvalidateSubscribers(ctx context.Context, tenantID string) {
	d.cache.Invalidate(ctx, tenantID)
}

// FanOut creates one delivery per matching subscriber for every event not yet fanned out.
func (d *Dispatcher) FanOut(ctx context.Context, tenantID string, db *sql.DB) (int, error) {
	repo := NewRepository(db)
	events, err := repo.Unfanned(ctx, d.cfg.BatchSize)
	if err != nil || len(events) == 0 {
		return 0, err
	}

	subs, err := d.Subscribers(ctx, tenantID, db)
	if err != nil {
		return 0, err
	}

	now := d.clock.Now().Unix()
	created := 0
	err = database.WithTx(ctx, db, func(tx *sql.Tx) error {
		for _, ev := range events {
			for _, s := range subs {
				if !s.Matches(ev.EventType) {
					continue
				}
				if err := repo.InsertDeliveryTx(ctx, tx, ev.ID, s.ID, s.URL, now); err != nil {
					return err
				}
				created++
			}
			if err := repo.MarkFannedOutTx(ctx, tx, ev.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

// Deliver attempts every due delivery with a bounded number of concurrent requests.
// It returns the number delivered successfully.
func (d *Dispatcher) Deliver(ctx context.Context, tenantID string, db *sql.DB) (int, error) {
	repo := NewRepository(db)
	due, err := repo.DueDeliveries(ctx, d.clock.Now().Unix(), d.cfg.BatchSize)
	if err != nil || len(due) == 0 {
		return 0, err
	}

	var delivered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.WorkerCount)
	for _, dl := range due {
		dl := dl
		g.Go(func() error {
			ok, err := d.deliverOne(gctx, tenantID, db, repo, dl)
			if err != nil {
				log.Error().Err(err).Str("tenant_id", tenantID).Str("delivery_id", dl.ID).Msg("webhook delivery bookkeeping failed")
			}
			if ok {
				delivered.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(delivered.Load()), nil
}

func (d *Dispatcher) deliverOne(ctx context.Context, tenantID string, db *sql.DB, repo *Repository, dl *Delivery) (bool, error) {
	attempt, claimed, err := repo.Claim(ctx, dl.ID, d.cfg.MaxAttempts, d.clock.Now().Unix())
	if err != nil || !claimed {
		return false, err
	}

	ev, err := repo.GetEvent(ctx, dl.EventID)
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, d.fail(ctx, repo, dl, attempt, "", 0, "event no longer exists", true)
	}

	sub, err := d.subscriber(ctx, tenantID, db, dl.SubscriberID)
	if err != nil {
		return false, err
	}
	if sub == nil || sub.Status != models.SubscriberActive {
		return false, d.fail(ctx, repo, dl, attempt, "", 0, "subscriber removed or paused", true)
	}

	body, err := json.Marshal(ev.Envelope())
	if err != nil {
		return false, err
	}
	signature := SignatureHeader(sub.Secret, body)

	code, sendErr := d.post(ctx, sub.URL, ev, dl.ID, signature, body)
	ctx = context.WithoutCancel(ctx)
	now := d.clock.Now().Unix()
	if sendErr == nil {
		d.metrics.RecordDelivery(ctx, ev.EventType, true)
		log.Debug().Str("delivery_id", dl.ID).Str("event_type", ev.EventType).Int("status", code).Msg("webhook delivered")
		_, err := repo.MarkDelivered(ctx, dl.ID, signature, code, now)
		return err == nil, err
	}

	d.metrics.RecordDelivery(ctx, ev.EventType, false)
	return false, d.fail(ctx, repo, dl, attempt, signature, code, sendErr.Error(), false)
}

func (d *Dispatcher) post(ctx context.Context, url string, ev *Event, deliveryID, signature string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "contentflow-webhooks/1")
	req.Header.Set("X-Contentflow-Signature", signature)
	req.Header.Set("X-Contentflow-Event", ev.EventType)
	req.Header.Set("X-Contentflow-Delivery", deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindDeliveryFailure, err, "request failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, apperrors.New(apperrors.KindDeliveryFailure, "subscriber returned HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// fail records a failed attempt. The delivery is retried with backoff until the attempt
// ceiling, then marked FAILED and reported to operators.
func (d *Dispatcher) fail(ctx context.Context, repo *Repository, dl *Delivery, attempt int, signature string, code int, msg string, permanent bool) error {
	now := d.clock.Now()
	if !permanent && attempt < d.cfg.MaxAttempts {
		next := now.Add(retry.Backoff(attempt, d.cfg.BackoffBase, d.cfg.BackoffMax))
		_, err := repo.MarkAttemptFailed(ctx, dl.ID, DeliveryPending, signature, code, msg, next.Unix(), now.Unix())
		log.Warn().Str("delivery_id", dl.ID).Int("attempt", attempt).Time("next_attempt_at", next).Str("error", msg).Msg("webhook delivery failed, will retry")
		return err
	}

	if _, err := repo.MarkAttemptFailed(ctx, dl.ID, DeliveryFailed, signature, code, msg, now.Unix(), now.Unix()); err != nil {
		return err
	}
	log.Error().Str("delivery_id", dl.ID).Str("url", dl.URL).Int("attempts", attempt).Str("error", msg).Msg("webhook delivery failed permanently")
	if d.alerts != nil {
		body := fmt.Sprintf("Delivery %s of event %s (%s) to %s failed after %d attempt(s): %s",
			dl.ID, dl.EventID, dl.EventType, dl.URL, attempt, msg)
		if err := d.alerts.Alert(ctx, "webhook delivery failed", body); err != nil {
			log.Error().Err(err).Msg("failed to send delivery alert")
		}
	}
	return nil
}

func (d *Dispatcher) subscriber(ctx context.Context, tenantID string, db *sql.DB, id string) (*models.WebhookSubscriber, error) {
	subs, err := d.Subscribers(ctx, tenantID, db)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.ID == id {
			return s, nil
		}
	}
	// not in the cached active list: paused, deleted or cached before it existed
	return repositories.NewWebhookRepository(db).GetByID(ctx, id)
}

// ReapStale returns deliveries stuck in SENDING past the lease to PENDING, or fails them
// when the stuck attempt was the last one.
func (d *Dispatcher) ReapStale(ctx context.Context, db *sql.DB) (int, error) {
	repo := NewRepository(db)
	now := d.clock.Now()
	stale, err := repo.StaleSending(ctx, now.Add(-d.cfg.LeaseTimeout).Unix(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, dl := range stale {
		if dl.ClaimedAt == nil {
			continue
		}
		var ok bool
		var err error
		if dl.Attempts >= d.cfg.MaxAttempts {
			ok, err = repo.FailStale(ctx, dl.ID, *dl.ClaimedAt, now.Unix())
		} else {
			ok, err = repo.ReleaseStale(ctx, dl.ID, *dl.ClaimedAt, now.Unix())
		}
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func (d *Dispatcher) FailedDeliveries(ctx context.Context, db *sql.DB, limit int) ([]*Delivery, error) {
	return NewRepository(db).Failed(ctx, limit)
}

// Redeliver puts a FAILED delivery back in the queue with a fresh set of attempts.
func (d *Dispatcher) Redeliver(ctx context.Context, db *sql.DB, deliveryID string) (*Delivery, error) {
	repo := NewRepository(db)
	dl, err := repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if dl == nil {
		return nil, apperrors.NotFound("delivery", deliveryID)
	}
	ok, err := repo.Requeue(ctx, deliveryID, d.clock.Now().Unix())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.New(apperrors.KindInvalidTransition, "delivery %s is %s; only FAILED deliveries can be redelivered", deliveryID, dl.Status)
	}
	return repo.GetDelivery(ctx, deliveryID)
}
