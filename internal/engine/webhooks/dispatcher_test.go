package webhooks

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"contentflow/internal/platform/alerts"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/models"
	"contentflow/internal/platform/repositories"

	"github.com/jonboulle/clockwork"
)

const testTenant = "org_1"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db       *sql.DB
	clock    clockwork.FakeClock
	alerts   *alerts.Recorder
	cache    *MemoryCache
	disp     *Dispatcher
	subs     *repositories.WebhookRepository
	repo     *Repository
	emitter  *Emitter
	hits     atomic.Int64
	status   atomic.Int64
	received chan captured
	server   *httptest.Server
}

type captured struct {
	header http.Header
	body   []byte
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	db, err := database.OpenMemory(database.TargetTenant)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		db:       db,
		clock:    clockwork.NewFakeClockAt(t0),
		alerts:   &alerts.Recorder{},
		subs:     repositories.NewWebhookRepository(db),
		repo:     NewRepository(db),
		received: make(chan captured, 16),
	}
	f.status.Store(http.StatusOK)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		f.received <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(int(f.status.Load()))
	}))
	t.Cleanup(f.server.Close)

	f.cache = NewMemoryCache(time.Minute, f.clock)
	f.emitter = NewEmitter(f.clock)
	f.disp = NewDispatcher(config.WebhooksConfig{
		WorkerCount:    2,
		BatchSize:      10,
		MaxAttempts:    maxAttempts,
		BackoffBase:    time.Second,
		BackoffMax:     time.Minute,
		RequestTimeout: 5 * time.Second,
		LeaseTimeout:   time.Minute,
	}, f.cache, f.alerts, f.clock, nil)
	return f
}

func (f *fixture) subscribe(t *testing.T, events []string, status string) *models.WebhookSubscriber {
	t.Helper()
	s := &models.WebhookSubscriber{TenantID: testTenant, URL: f.server.URL + "/hook", Events: events, Secret: "s3cret", Status: status}
	if err := f.subs.Create(context.Background(), s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func (f *fixture) emit(t *testing.T, eventType string) *Event {
	t.Helper()
	var ev *Event
	err := database.WithTx(context.Background(), f.db, func(tx *sql.Tx) error {
		var err error
		ev, err = f.emitter.Emit(context.Background(), tx, testTenant, eventType, EntityPost, "post_1", map[string]string{"status": "DRAFT"})
		return err
	})
	if err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	return ev
}

func (f *fixture) onlyDelivery(t *testing.T) *Delivery {
	t.Helper()
	var id string
	if err := f.db.QueryRow(`SELECT id FROM webhook_deliveries`).Scan(&id); err != nil {
		t.Fatalf("select delivery: %v", err)
	}
	d, err := f.repo.GetDelivery(context.Background(), id)
	if err != nil || d == nil {
		t.Fatalf("GetDelivery() = %v, %v", d, err)
	}
	return d
}

func TestFanOutMatchesSubscribers(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	f.subscribe(t, []string{"publish.*"}, "")
	f.subscribe(t, []string{"post.created"}, "")
	f.subscribe(t, []string{"*"}, models.SubscriberPaused)

	f.emit(t, EventPostCreated)
	f.emit(t, EventPublishFailed)
	f.emit(t, EventEngagementUpdated)

	created, err := f.disp.FanOut(ctx, testTenant, f.db)
	if err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}
	if created != 2 {
		t.Errorf("FanOut() created %d deliveries, want 2", created)
	}

	again, err := f.disp.FanOut(ctx, testTenant, f.db)
	if err != nil {
		t.Fatalf("second FanOut() error = %v", err)
	}
	if again != 0 {
		t.Errorf("second FanOut() created %d, want 0", again)
	}

	pending, err := f.repo.Unfanned(ctx, 10)
	if err != nil {
		t.Fatalf("Unfanned() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("%d events left unfanned", len(pending))
	}
}

func TestDeliverSignsEnvelope(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	sub := f.subscribe(t, nil, "")
	ev := f.emit(t, EventPostCreated)

	if err := f.disp.Run(ctx, testTenant, f.db); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	req := <-f.received
	if !Verify(sub.Secret, req.body, req.header.Get("X-Contentflow-Signature")) {
		t.Error("signature header does not verify against the body")
	}
	if got := req.header.Get("X-Contentflow-Event"); got != EventPostCreated {
		t.Errorf("X-Contentflow-Event = %q", got)
	}
	if got := req.header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}

	d := f.onlyDelivery(t)
	if d.Status != DeliveryDelivered {
		t.Errorf("Status = %s, want DELIVERED", d.Status)
	}
	if d.EventID != ev.ID || d.ResponseCode != http.StatusOK || d.Attempts != 1 {
		t.Errorf("unexpected delivery %+v", d)
	}
	if got := req.header.Get("X-Contentflow-Delivery"); got != d.ID {
		t.Errorf("X-Contentflow-Delivery = %q, want %q", got, d.ID)
	}
}

func TestDeliverRetriesThenFails(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.status.Store(http.StatusInternalServerError)

	f.subscribe(t, nil, "")
	f.emit(t, EventPostApproved)

	if err := f.disp.Run(ctx, testTenant, f.db); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	d := f.onlyDelivery(t)
	if d.Status != DeliveryPending || d.Attempts != 1 {
		t.Fatalf("after first attempt: status=%s attempts=%d", d.Status, d.Attempts)
	}
	if want := t0.Add(time.Second).Unix(); d.NextAttemptAt != want {
		t.Errorf("NextAttemptAt = %d, want %d", d.NextAttemptAt, want)
	}

	// not due yet
	if n, err := f.disp.Deliver(ctx, testTenant, f.db); err != nil || n != 0 {
		t.Fatalf("Deliver() before backoff = %d, %v", n, err)
	}
	if f.hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", f.hits.Load())
	}

	f.clock.Advance(2 * time.Second)
	if _, err := f.disp.Deliver(ctx, testTenant, f.db); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	d = f.onlyDelivery(t)
	if d.Status != DeliveryFailed || d.Attempts != 2 {
		t.Fatalf("after ceiling: status=%s attempts=%d", d.Status, d.Attempts)
	}
	if d.ResponseCode != http.StatusInternalServerError {
		t.Errorf("ResponseCode = %d", d.ResponseCode)
	}
	if got := f.alerts.Subjects(); len(got) != 1 {
		t.Errorf("alerts = %v, want one", got)
	}

	failed, err := f.disp.FailedDeliveries(ctx, f.db, 10)
	if err != nil || len(failed) != 1 {
		t.Fatalf("FailedDeliveries() = %d, %v", len(failed), err)
	}

	f.status.Store(http.StatusNoContent)
	requeued, err := f.disp.Redeliver(ctx, f.db, d.ID)
	if err != nil {
		t.Fatalf("Redeliver() error = %v", err)
	}
	if requeued.Status != DeliveryPending || requeued.Attempts != 0 {
		t.Errorf("after redeliver: status=%s attempts=%d", requeued.Status, requeued.Attempts)
	}
	if n, err := f.disp.Deliver(ctx, testTenant, f.db); err != nil || n != 1 {
		t.Fatalf("Deliver() after redeliver = %d, %v", n, err)
	}

	if _, err := f.disp.Redeliver(ctx, f.db, d.ID); err == nil {
		t.Error("expected error redelivering a DELIVERED delivery")
	}
	if _, err := f.disp.Redeliver(ctx, f.db, "dlv_missing"); err == nil {
		t.Error("expected error for unknown delivery")
	}
}

func TestDeliverToRemovedSubscriberFails(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	sub := f.subscribe(t, nil, "")
	f.emit(t, EventPostCreated)
	if _, err := f.disp.FanOut(ctx, testTenant, f.db); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}

	if err := f.subs.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	f.cache.Invalidate(ctx, testTenant)

	if _, err := f.disp.Deliver(ctx, testTenant, f.db); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if f.hits.Load() != 0 {
		t.Errorf("hits = %d, want no request", f.hits.Load())
	}
	if d := f.onlyDelivery(t); d.Status != DeliveryFailed {
		t.Errorf("Status = %s, want FAILED", d.Status)
	}
}

func TestDeliverStaleSnapshotIsNotResent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.status.Store(http.StatusInternalServerError)

	f.subscribe(t, nil, "")
	f.emit(t, EventPostCreated)
	if _, err := f.disp.FanOut(ctx, testTenant, f.db); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}
	stale := f.onlyDelivery(t)

	if _, err := f.disp.Deliver(ctx, testTenant, f.db); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	// a worker still holding the pre-attempt row must not skip the backoff
	ok, err := f.disp.deliverOne(ctx, testTenant, f.db, f.repo, stale)
	if err != nil || ok {
		t.Fatalf("deliverOne() during backoff = %v, %v", ok, err)
	}
	if f.hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", f.hits.Load())
	}

	f.clock.Advance(2 * time.Second)
	if _, err := f.disp.deliverOne(ctx, testTenant, f.db, f.repo, stale); err != nil {
		t.Fatalf("deliverOne() error = %v", err)
	}
	d := f.onlyDelivery(t)
	if d.Status != DeliveryFailed || d.Attempts != 2 {
		t.Fatalf("after ceiling: status=%s attempts=%d", d.Status, d.Attempts)
	}
	if got := f.alerts.Subjects(); len(got) != 1 {
		t.Errorf("alerts = %v, want one", got)
	}

	if ok, _ := f.disp.deliverOne(ctx, testTenant, f.db, f.repo, stale); ok {
		t.Error("FAILED delivery was sent again")
	}
	if f.hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", f.hits.Load())
	}
}

func TestReapStaleFailsExhaustedSending(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	f.subscribe(t, nil, "")
	f.emit(t, EventPostCreated)
	if _, err := f.disp.FanOut(ctx, testTenant, f.db); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}
	d := f.onlyDelivery(t)
	if _, ok, err := f.repo.Claim(ctx, d.ID, 1, f.clock.Now().Unix()); !ok || err != nil {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	f.clock.Advance(2 * time.Minute)
	n, err := f.disp.ReapStale(ctx, f.db)
	if err != nil || n != 1 {
		t.Fatalf("ReapStale() = %d, %v", n, err)
	}
	if d := f.onlyDelivery(t); d.Status != DeliveryFailed || d.Attempts != 1 {
		t.Errorf("status=%s attempts=%d, want FAILED after one attempt", d.Status, d.Attempts)
	}
	if n, err := f.disp.Deliver(ctx, testTenant, f.db); err != nil || n != 0 {
		t.Errorf("Deliver() = %d, %v, want nothing sent", n, err)
	}
}

func TestReapStaleReleasesSending(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	f.subscribe(t, nil, "")
	f.emit(t, EventPostCreated)
	if _, err := f.disp.FanOut(ctx, testTenant, f.db); err != nil {
		t.Fatalf("FanOut() error = %v", err)
	}
	d := f.onlyDelivery(t)
	if _, ok, err := f.repo.Claim(ctx, d.ID, 5, f.clock.Now().Unix()); !ok || err != nil {
		t.Fatalf("Claim() = %v, %v", ok, err)
	}

	if n, err := f.disp.ReapStale(ctx, f.db); err != nil || n != 0 {
		t.Fatalf("ReapStale() inside lease = %d, %v", n, err)
	}

	f.clock.Advance(2 * time.Minute)
	n, err := f.disp.ReapStale(ctx, f.db)
	if err != nil || n != 1 {
		t.Fatalf("ReapStale() = %d, %v", n, err)
	}
	if d := f.onlyDelivery(t); d.Status != DeliveryPending {
		t.Errorf("Status = %s, want PENDING", d.Status)
	}
}
