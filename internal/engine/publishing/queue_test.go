package publishing

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"contentflow/internal/engine/jobs"
	"contentflow/internal/engine/platforms"
	"contentflow/internal/engine/platforms/platformstest"
	"contentflow/internal/engine/webhooks"
	"contentflow/internal/engine/workflow"
	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/platform/alerts"
	"contentflow/internal/platform/assets"
	"contentflow/internal/platform/config"
	"contentflow/internal/platform/database"

	"github.com/jonboulle/clockwork"
)

const tenantID = "org_1"

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type harness struct {
	t      *testing.T
	db     *sql.DB
	clock  clockwork.FakeClock
	alerts *alerts.Recorder
	reg    *platforms.Registry
	queue  *Queue
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	db, err := database.OpenMemory(database.TargetTenant)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		t:      t,
		db:     db,
		clock:  clockwork.NewFakeClockAt(start),
		alerts: &alerts.Recorder{},
		reg:    platforms.NewRegistry(),
	}
	h.queue = NewQueue(config.PublishingConfig{
		WorkerCount:    2,
		BatchSize:      10,
		MaxAttempts:    maxAttempts,
		BackoffBase:    10 * time.Second,
		BackoffMax:     5 * time.Minute,
		AdapterTimeout: 50 * time.Millisecond,
		LeaseTimeout:   10 * time.Minute,
	}, Deps{
		Registry: h.reg,
		Resolver: assets.NewStaticResolver("https://cdn.example.com"),
		Alerts:   h.alerts,
		Clock:    h.clock,
	})
	return h
}

func (h *harness) flow() *workflow.Service {
	return h.queue.tenant(tenantID, h.db).flow
}

// schedule creates, approves and schedules a post one minute out, then moves the clock
// past the schedule.
func (h *harness) schedule(platformIDs ...string) (*workflow.Post, map[string]*jobs.Job) {
	h.t.Helper()
	ctx := context.Background()
	flow := h.flow()

	p, err := flow.CreatePost(ctx, "writer", workflow.PostInput{
		Title:       "Launch",
		Caption:     "Launch day",
		Hashtags:    []string{"launch"},
		Media:       []platforms.MediaAsset{{Key: "campaigns/launch.jpg", Type: "image"}},
		Platforms:   platformIDs,
		ContentType: platforms.ContentImage,
	})
	if err != nil {
		h.t.Fatalf("CreatePost() error = %v", err)
	}
	for _, typ := range []workflow.ApprovalType{workflow.ApprovalInternal, workflow.ApprovalClient} {
		a, err := flow.SubmitForReview(ctx, "writer", p.ID, typ)
		if err != nil {
			h.t.Fatalf("SubmitForReview() error = %v", err)
		}
		if _, _, err := flow.RecordDecision(ctx, "reviewer", a.ID, workflow.DecisionApproved, ""); err != nil {
			h.t.Fatalf("RecordDecision() error = %v", err)
		}
	}
	_, created, err := flow.SchedulePublish(ctx, "manager", p.ID, h.clock.Now().Add(time.Minute).Unix())
	if err != nil {
		h.t.Fatalf("SchedulePublish() error = %v", err)
	}
	h.clock.Advance(2 * time.Minute)

	byPlatform := make(map[string]*jobs.Job, len(created))
	for _, j := range created {
		byPlatform[j.Platform] = j
	}
	return p, byPlatform
}

func (h *harness) tick() int {
	h.t.Helper()
	n, err := h.queue.Tick(context.Background(), tenantID, h.db)
	if err != nil {
		h.t.Fatalf("Tick() error = %v", err)
	}
	return n
}

func (h *harness) job(id string) *jobs.Job {
	h.t.Helper()
	j, err := jobs.NewRepository(h.db).Get(context.Background(), h.db, id)
	if err != nil || j == nil {
		h.t.Fatalf("Get(%s) = %v, %v", id, j, err)
	}
	return j
}

func (h *harness) postStatus(id string) workflow.Status {
	h.t.Helper()
	p, err := workflow.NewRepository(h.db).Get(context.Background(), h.db, id)
	if err != nil || p == nil {
		h.t.Fatalf("Get(%s) = %v, %v", id, p, err)
	}
	return p.Status
}

func (h *harness) countEvents(eventType string) int {
	h.t.Helper()
	var n int
	if err := h.db.QueryRow(`SELECT COUNT(*) FROM webhook_events WHERE event_type = ?`, eventType).Scan(&n); err != nil {
		h.t.Fatalf("count events: %v", err)
	}
	return n
}

func adapterErr(msg string) error {
	return apperrors.New(apperrors.KindAdapter, "%s", msg)
}

func TestRetryThenDeliver(t *testing.T) {
	h := newHarness(t, 3)
	x := platformstest.New("x", true)
	li := platformstest.New("linkedin", true).Script(
		platformstest.Result{Err: adapterErr("gateway 503")},
		platformstest.Result{Err: adapterErr("gateway 503")},
	)
	h.reg.Register("x", x)
	h.reg.Register("linkedin", li)

	post, byPlatform := h.schedule("x", "linkedin")

	if n := h.tick(); n != 2 {
		t.Fatalf("first tick picked %d jobs, want 2", n)
	}
	if got := h.postStatus(post.ID); got != workflow.StatusPublishing {
		t.Fatalf("post = %s, want PUBLISHING", got)
	}
	retrying := h.job(byPlatform["linkedin"].ID)
	if retrying.Status != jobs.StatusPending || retrying.Attempts != 1 || retrying.ErrorKind != jobs.ErrorKindAdapter {
		t.Fatalf("linkedin after attempt 1 = %+v", retrying)
	}
	if want := h.clock.Now().Add(10 * time.Second).Unix(); *retrying.NextRetryAt != want {
		t.Errorf("NextRetryAt = %d, want %d", *retrying.NextRetryAt, want)
	}

	if n := h.tick(); n != 0 {
		t.Fatalf("tick before backoff picked %d jobs", n)
	}

	h.clock.Advance(11 * time.Second)
	h.tick()
	if j := h.job(byPlatform["linkedin"].ID); j.Attempts != 2 || *j.NextRetryAt != h.clock.Now().Add(20*time.Second).Unix() {
		t.Fatalf("linkedin after attempt 2 = %+v", j)
	}

	h.clock.Advance(21 * time.Second)
	h.tick()

	if j := h.job(byPlatform["x"].ID); j.Status != jobs.StatusSucceeded || j.Attempts != 1 {
		t.Errorf("x job = %s after %d attempts", j.Status, j.Attempts)
	}
	if j := h.job(byPlatform["linkedin"].ID); j.Status != jobs.StatusSucceeded || j.Attempts != 3 || j.PlatformPostID == "" {
		t.Errorf("linkedin job = %+v", j)
	}
	if got := h.postStatus(post.ID); got != workflow.StatusDelivered {
		t.Errorf("post = %s, want DELIVERED", got)
	}

	if n := h.countEvents(webhooks.EventPostPublishing); n != 1 {
		t.Errorf("post.publishing emitted %d times", n)
	}
	if n := h.countEvents(webhooks.EventPostDelivered); n != 1 {
		t.Errorf("post.delivered emitted %d times", n)
	}
	if n := h.countEvents(webhooks.EventPublishRetrying); n != 2 {
		t.Errorf("publish.retrying emitted %d times, want 2", n)
	}

	reqs := li.Requests()
	if len(reqs) != 3 {
		t.Fatalf("linkedin called %d times, want 3", len(reqs))
	}
	for _, r := range reqs {
		if r.IdempotencyKey != reqs[0].IdempotencyKey || r.IdempotencyKey == "" {
			t.Errorf("idempotency key changed between attempts: %q vs %q", r.IdempotencyKey, reqs[0].IdempotencyKey)
		}
		if r.Media[0].URL != "https://cdn.example.com/campaigns/launch.jpg" {
			t.Errorf("media URL = %q", r.Media[0].URL)
		}
	}
	if len(h.alerts.Subjects()) != 0 {
		t.Errorf("unexpected alerts %v", h.alerts.Subjects())
	}
}

// rejecting fails validation for every request.
type rejecting struct {
	*platformstest.Adapter
}

func (r rejecting) Validate(req *platforms.PublishRequest) platforms.ValidationResult {
	return platforms.ValidationResult{Errors: []apperrors.FieldError{{Field: "media", Message: "expired asset"}}}
}

func TestValidationFailureDoesNotConsumeAttempt(t *testing.T) {
	h := newHarness(t, 3)
	fake := platformstest.New("x", true)
	h.reg.Register("x", fake)
	post, byPlatform := h.schedule("x")

	// the platform's rules tightened after scheduling
	h.reg.Register("x", rejecting{fake})
	h.tick()

	j := h.job(byPlatform["x"].ID)
	if j.Status != jobs.StatusFailed || j.Attempts != 0 || j.ErrorKind != jobs.ErrorKindValidation {
		t.Errorf("job = %s attempts=%d kind=%s", j.Status, j.Attempts, j.ErrorKind)
	}
	if len(fake.Requests()) != 0 {
		t.Error("adapter was called for an invalid request")
	}
	if got := h.postStatus(post.ID); got != workflow.StatusScheduled {
		t.Errorf("post = %s, want SCHEDULED", got)
	}
	if n := h.countEvents(webhooks.EventPublishFailed); n != 1 {
		t.Errorf("publish.failed emitted %d times", n)
	}
}

func TestAttemptCeilingThenOperatorRetry(t *testing.T) {
	h := newHarness(t, 2)
	fake := platformstest.New("x", true).Script(
		platformstest.Result{Err: adapterErr("down")},
		platformstest.Result{Err: adapterErr("still down")},
	)
	h.reg.Register("x", fake)
	post, byPlatform := h.schedule("x")
	id := byPlatform["x"].ID

	h.tick()
	h.clock.Advance(time.Minute)
	h.tick()

	j := h.job(id)
	if j.Status != jobs.StatusFailed || j.Attempts != 2 || j.LastError == "" {
		t.Fatalf("job = %+v, want FAILED after 2 attempts", j)
	}
	if got := h.alerts.Subjects(); len(got) != 1 {
		t.Errorf("alerts = %v, want one", got)
	}
	if got := h.postStatus(post.ID); got != workflow.StatusPublishing {
		t.Errorf("post = %s, want PUBLISHING", got)
	}

	h.clock.Advance(time.Hour)
	if n := h.tick(); n != 0 {
		t.Fatalf("failed job picked up again (%d)", n)
	}

	ctx := context.Background()
	requeued, err := h.queue.RetryFailed(ctx, tenantID, h.db, "ops", id)
	if err != nil {
		t.Fatalf("RetryFailed() error = %v", err)
	}
	if requeued.Status != jobs.StatusPending || requeued.Attempts != 0 {
		t.Errorf("requeued = %s attempts=%d", requeued.Status, requeued.Attempts)
	}
	if _, err := h.queue.RetryFailed(ctx, tenantID, h.db, "ops", id); !stderrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("RetryFailed() on PENDING job error = %v", err)
	}

	h.tick()
	if got := h.postStatus(post.ID); got != workflow.StatusDelivered {
		t.Errorf("post = %s, want DELIVERED", got)
	}
	if _, err := h.queue.RetryFailed(ctx, tenantID, h.db, "ops", "job_missing"); !stderrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("RetryFailed() unknown job error = %v", err)
	}
}

func TestStaleJobSnapshotUsesStoredAttempts(t *testing.T) {
	h := newHarness(t, 2)
	fake := platformstest.New("x", true).Script(
		platformstest.Result{Err: adapterErr("down")},
		platformstest.Result{Err: adapterErr("still down")},
	)
	h.reg.Register("x", fake)
	_, byPlatform := h.schedule("x")
	id := byPlatform["x"].ID

	ctx := context.Background()
	due, err := jobs.NewRepository(h.db).Due(ctx, h.clock.Now().Unix(), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("Due() = %v, %v", due, err)
	}
	stale := due[0]
	h.tick()

	// another worker still holds the row it loaded before the first attempt
	tn := h.queue.tenant(tenantID, h.db)
	if err := h.queue.process(ctx, tn, stale); err != nil {
		t.Fatalf("process() during backoff error = %v", err)
	}
	if got := len(fake.Requests()); got != 1 {
		t.Fatalf("adapter called %d times during backoff, want 1", got)
	}
	if j := h.job(id); j.Status != jobs.StatusPending || j.Attempts != 1 {
		t.Fatalf("job = %s attempts=%d, want PENDING after 1", j.Status, j.Attempts)
	}

	h.clock.Advance(11 * time.Second)
	if err := h.queue.process(ctx, tn, stale); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	if j := h.job(id); j.Status != jobs.StatusFailed || j.Attempts != 2 {
		t.Errorf("job = %s attempts=%d, want FAILED after 2", j.Status, j.Attempts)
	}
	if n := h.countEvents(webhooks.EventPublishFailed); n != 1 {
		t.Errorf("publish.failed emitted %d times, want 1", n)
	}
	if n := h.countEvents(webhooks.EventPublishRetrying); n != 1 {
		t.Errorf("publish.retrying emitted %d times, want 1", n)
	}
}

func TestPermanentRejectionIsNotRetried(t *testing.T) {
	h := newHarness(t, 5)
	rejected := apperrors.Wrap(apperrors.KindAdapter, &platforms.StatusError{StatusCode: 400, Body: "caption contains a banned word"}, "publish to x")
	h.reg.Register("x", platformstest.New("x", true).Script(platformstest.Result{Err: rejected}))
	_, byPlatform := h.schedule("x")

	h.tick()

	j := h.job(byPlatform["x"].ID)
	if j.Status != jobs.StatusFailed || j.Attempts != 1 {
		t.Errorf("job = %s after %d attempts, want FAILED after 1", j.Status, j.Attempts)
	}
}

// hooked runs a callback in the middle of Publish.
type hooked struct {
	*platformstest.Adapter
	during func()
}

func (a hooked) Publish(ctx context.Context, req *platforms.PublishRequest) (*platforms.PublishResult, error) {
	a.during()
	return a.Adapter.Publish(ctx, req)
}

func TestCancelDuringPublish(t *testing.T) {
	tests := []struct {
		name    string
		result  platformstest.Result
		wantJob jobs.Status
	}{
		{"failure is cancelled", platformstest.Result{Err: adapterErr("boom")}, jobs.StatusCancelled},
		{"success is recorded", platformstest.Result{Result: &platforms.PublishResult{Success: true, PlatformPostID: "x-1"}}, jobs.StatusSucceeded},
		{"manual hand-off is cancelled", platformstest.Result{Result: &platforms.PublishResult{Success: true, ManualActionRequired: true}}, jobs.StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3)
			var postID string
			fake := platformstest.New("x", true).Script(tt.result)
			h.reg.Register("x", hooked{Adapter: fake, during: func() {
				if _, err := h.flow().Cancel(context.Background(), "manager", postID, "campaign pulled"); err != nil {
					t.Errorf("Cancel() error = %v", err)
				}
			}})
			post, byPlatform := h.schedule("x")
			postID = post.ID

			h.tick()

			if j := h.job(byPlatform["x"].ID); j.Status != tt.wantJob {
				t.Errorf("job = %s, want %s", j.Status, tt.wantJob)
			}
			if got := h.postStatus(post.ID); got != workflow.StatusArchived {
				t.Errorf("post = %s, want ARCHIVED", got)
			}
			if n := h.countEvents(webhooks.EventPostDelivered); n != 0 {
				t.Error("archived post was delivered")
			}
		})
	}
}

func TestOutcomeRecordedAfterPassCancelled(t *testing.T) {
	h := newHarness(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.reg.Register("x", hooked{Adapter: platformstest.New("x", true), during: cancel})
	post, byPlatform := h.schedule("x")

	due, err := jobs.NewRepository(h.db).Due(context.Background(), h.clock.Now().Unix(), 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("Due() = %v, %v", due, err)
	}
	if err := h.queue.process(ctx, h.queue.tenant(tenantID, h.db), due[0]); err != nil {
		t.Fatalf("process() error = %v", err)
	}

	if j := h.job(byPlatform["x"].ID); j.Status != jobs.StatusSucceeded || j.PlatformPostID == "" {
		t.Errorf("job = %s remote=%q, want SUCCEEDED", j.Status, j.PlatformPostID)
	}
	if got := h.postStatus(post.ID); got != workflow.StatusDelivered {
		t.Errorf("post = %s, want DELIVERED", got)
	}
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name       string
		idempotent bool
		wantStatus jobs.Status
		wantKind   string
		wantAlerts int
	}{
		{"idempotent adapter retries", true, jobs.StatusPending, jobs.ErrorKindTimeout, 0},
		{"non-idempotent adapter needs reconciliation", false, jobs.StatusFailed, jobs.ErrorKindReconcile, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3)
			h.reg.Register("discord", platformstest.New("discord", tt.idempotent).Script(platformstest.Result{Block: true}))
			_, byPlatform := h.schedule("discord")

			h.tick()

			j := h.job(byPlatform["discord"].ID)
			if j.Status != tt.wantStatus || j.ErrorKind != tt.wantKind || j.Attempts != 1 {
				t.Errorf("job = %s kind=%s attempts=%d, want %s kind=%s", j.Status, j.ErrorKind, j.Attempts, tt.wantStatus, tt.wantKind)
			}
			if got := len(h.alerts.Subjects()); got != tt.wantAlerts {
				t.Errorf("alerts = %d, want %d", got, tt.wantAlerts)
			}
		})
	}
}

func TestManualPublishAwaitsConfirmation(t *testing.T) {
	h := newHarness(t, 3)
	h.reg.Register("x", platformstest.New("x", true))
	h.reg.Register("tiktok", platformstest.New("tiktok", true).Script(platformstest.Result{
		Result: &platforms.PublishResult{Success: true, ManualActionRequired: true, Metadata: map[string]string{"instructions": "post from the phone"}},
	}))
	post, byPlatform := h.schedule("x", "tiktok")

	h.tick()

	manual := h.job(byPlatform["tiktok"].ID)
	if manual.Status != jobs.StatusAwaitingManual || manual.LastError != "post from the phone" {
		t.Fatalf("tiktok job = %s %q", manual.Status, manual.LastError)
	}
	if got := h.postStatus(post.ID); got != workflow.StatusPublishing {
		t.Fatalf("post = %s, want PUBLISHING while a manual job is open", got)
	}

	ctx := context.Background()
	confirmed, err := h.queue.ConfirmManual(ctx, tenantID, h.db, "social@agency.test", manual.ID, "7251234")
	if err != nil {
		t.Fatalf("ConfirmManual() error = %v", err)
	}
	if confirmed.Status != jobs.StatusSucceeded || confirmed.PlatformPostID != "7251234" {
		t.Errorf("confirmed = %+v", confirmed)
	}
	if got := h.postStatus(post.ID); got != workflow.StatusDelivered {
		t.Errorf("post = %s, want DELIVERED", got)
	}

	if _, err := h.queue.ConfirmManual(ctx, tenantID, h.db, "social", manual.ID, "again"); !stderrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("second ConfirmManual() error = %v", err)
	}
}

func TestReapStale(t *testing.T) {
	h := newHarness(t, 3)
	h.reg.Register("x", platformstest.New("x", true))
	h.reg.Register("discord", platformstest.New("discord", false))
	_, byPlatform := h.schedule("x", "discord")

	ctx := context.Background()
	repo := jobs.NewRepository(h.db)
	for _, j := range byPlatform {
		if _, ok, err := repo.Claim(ctx, h.db, j.ID, h.clock.Now().Unix()); !ok || err != nil {
			t.Fatalf("Claim() = %v, %v", ok, err)
		}
	}

	if n, err := h.queue.ReapStale(ctx, tenantID, h.db); err != nil || n != 0 {
		t.Fatalf("ReapStale() inside lease = %d, %v", n, err)
	}

	h.clock.Advance(11 * time.Minute)
	n, err := h.queue.ReapStale(ctx, tenantID, h.db)
	if err != nil || n != 2 {
		t.Fatalf("ReapStale() = %d, %v", n, err)
	}
	if j := h.job(byPlatform["x"].ID); j.Status != jobs.StatusPending {
		t.Errorf("idempotent job = %s, want PENDING", j.Status)
	}
	if j := h.job(byPlatform["discord"].ID); j.Status != jobs.StatusFailed || j.ErrorKind != jobs.ErrorKindReconcile {
		t.Errorf("non-idempotent job = %s kind=%s", j.Status, j.ErrorKind)
	}
	if got := len(h.alerts.Subjects()); got != 1 {
		t.Errorf("alerts = %d, want 1", got)
	}
}

func TestRefreshEngagement(t *testing.T) {
	h := newHarness(t, 3)
	fake := platformstest.New("x", true)
	h.reg.Register("x", fake)
	_, byPlatform := h.schedule("x")
	h.tick()

	ctx := context.Background()
	if n, err := h.queue.RefreshEngagement(ctx, tenantID, h.db); err != nil || n != 0 {
		t.Fatalf("RefreshEngagement() with empty metrics = %d, %v", n, err)
	}

	fake.SetEngagement(platforms.Engagement{Likes: 42, Comments: 3})
	n, err := h.queue.RefreshEngagement(ctx, tenantID, h.db)
	if err != nil || n != 1 {
		t.Fatalf("RefreshEngagement() = %d, %v", n, err)
	}

	j := h.job(byPlatform["x"].ID)
	if j.Metrics == nil || j.Metrics.Likes != 42 || j.Metrics.CollectedAt != h.clock.Now().Unix() {
		t.Errorf("metrics = %+v", j.Metrics)
	}
	if n := h.countEvents(webhooks.EventEngagementUpdated); n != 1 {
		t.Errorf("engagement.updated emitted %d times", n)
	}
}

func TestRefreshEngagementRotatesBatches(t *testing.T) {
	h := newHarness(t, 3)
	fake := platformstest.New("x", true)
	h.reg.Register("x", fake)

	var ids []string
	for i := 0; i < 12; i++ {
		_, byPlatform := h.schedule("x")
		ids = append(ids, byPlatform["x"].ID)
	}
	h.tick()
	h.tick()

	ctx := context.Background()
	fake.SetEngagement(platforms.Engagement{Likes: 7})
	for pass := 1; pass <= 2; pass++ {
		if n, err := h.queue.RefreshEngagement(ctx, tenantID, h.db); err != nil || n != 10 {
			t.Fatalf("pass %d: RefreshEngagement() = %d, %v", pass, n, err)
		}
	}

	for _, id := range ids {
		if j := h.job(id); j.Status != jobs.StatusSucceeded || j.Metrics == nil {
			t.Errorf("job %s = %s metrics=%v, want refreshed", id, j.Status, j.Metrics)
		}
	}
}
