package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"contentflow/internal/engine/jobs"
	"contentflow/internal/engine/platforms"
	"contentflow/internal/engine/webhooks"
	apperrors "contentflow/internal/pkg/errors"
	"contentflow/internal/platform/audit"
	"contentflow/internal/platform/database"
	"contentflow/internal/platform/telemetry"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SystemActor is recorded for transitions made by the pipeline itself.
const SystemActor = "system"

// Deps are shared across tenants; a Service is cheap and built per tenant database.
type Deps struct {
	Registry    *platforms.Registry
	Emitter     *webhooks.Emitter
	History     *audit.Logger
	Clock       clockwork.Clock
	Metrics     *telemetry.Metrics
	MaxAttempts int
}

type Service struct {
	db       *sql.DB
	tenantID string
	posts    *Repository
	jobs     *jobs.Repository
	deps     Deps
}

func NewService(db *sql.DB, tenantID string, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Registry == nil {
		deps.Registry = platforms.NewRegistry()
	}
	if deps.History == nil {
		deps.History = audit.NewLogger()
	}
	if deps.Emitter == nil {
		deps.Emitter = webhooks.NewEmitter(deps.Clock)
	}
	if deps.MaxAttempts < 1 {
		deps.MaxAttempts = 1
	}
	return &Service{
		db:       db,
		tenantID: tenantID,
		posts:    NewRepository(db),
		jobs:     jobs.NewRepository(db),
		deps:     deps,
	}
}

func (s *Service) now() int64 {
	return s.deps.Clock.Now().Unix()
}

// CreatePost stores a new DRAFT post.
func (s *Service) CreatePost(ctx context.Context, actor string, in PostInput) (*Post, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	now := s.now()
	p := &Post{
		ID:          "post_" + uuid.New().String(),
		TenantID:    s.tenantID,
		Title:       in.Title,
		Caption:     in.Caption,
		Hashtags:    in.Hashtags,
		Media:       in.Media,
		Platforms:   in.Platforms,
		ContentType: in.ContentType,
		Status:      StatusDraft,
		Version:     1,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.posts.Insert(ctx, tx, p); err != nil {
			return err
		}
		if err := s.history(ctx, tx, p.ID, "", StatusDraft, actor, ""); err != nil {
			return err
		}
		_, err := s.deps.Emitter.Emit(ctx, tx, s.tenantID, webhooks.EventPostCreated, webhooks.EntityPost, p.ID, postPayload(p, "", actor, nil))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}

	log.Info().Str("tenant_id", s.tenantID).Str("post_id", p.ID).Str("actor", actor).Msg("post created")
	return p, nil
}

// UpdateContent replaces the editable fields of a post in DRAFT, REVISION_NEEDED or
// CLIENT_REVISION and bumps its version.
func (s *Service) UpdateContent(ctx context.Context, actor, postID string, in PostInput) (*Post, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	var updated *Post
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := s.mustGet(ctx, tx, postID)
		if err != nil {
			return err
		}
		if !p.Status.Editable() {
			return apperrors.New(apperrors.KindInvalidTransition, "post %s cannot be edited in %s", postID, p.Status)
		}
		version := p.Version
		if in.Version > 0 && in.Version != version {
			return apperrors.New(apperrors.KindInvalidTransition, "post %s is at version %d, not %d", postID, version, in.Version)
		}

		p.Title = in.Title
		p.Caption = in.Caption
		p.Hashtags = in.Hashtags
		p.Media = in.Media
		p.Platforms = in.Platforms
		p.ContentType = in.ContentType

		now := s.now()
		ok, err := s.posts.UpdateContent(ctx, tx, p, version, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.New(apperrors.KindInvalidTransition, "post %s changed concurrently", postID)
		}
		p.Version = version + 1
		p.UpdatedAt = now

		_, err = s.deps.Emitter.Emit(ctx, tx, s.tenantID, webhooks.EventPostUpdated, webhooks.EntityPost, p.ID, postPayload(p, "", actor, nil))
		updated = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SubmitForReview opens an approval of type t and moves the post into review.
func (s *Service) SubmitForReview(ctx context.Context, actor, postID string, t ApprovalType) (*Approval, error) {
	if !t.Valid() {
		return nil, apperrors.Validation([]apperrors.FieldError{{Field: "type", Message: "must be INTERNAL or CLIENT"}})
	}

	var approval *Approval
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := s.mustGet(ctx, tx, postID)
		if err != nil {
			return err
		}
		to := t.reviewStatus()
		if !CanTransition(p.Status, to) {
			return apperrors.InvalidTransition(string(p.Status), string(to))
		}
		pending, err := s.posts.HasPending(ctx, tx, postID, t)
		if err != nil {
			return err
		}
		if pending {
			return apperrors.New(apperrors.KindInvalidTransition, "post %s already has a pending %s approval", postID, t)
		}

		approval = &Approval{
			PostID:      postID,
			TenantID:    s.tenantID,
			Type:        t,
			Status:      ApprovalPending,
			RequestedBy: actor,
			RequestedAt: s.now(),
		}
		if err := s.posts.InsertApproval(ctx, tx, approval); err != nil {
			return err
		}
		return s.transition(ctx, tx, p, to, actor, "", webhooks.EventPostReviewRequested, map[string]interface{}{
			"approval_id":   approval.ID,
			"approval_type": t,
		})
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// RecordDecision closes a pending approval and moves the post accordingly.
func (s *Service) RecordDecision(ctx context.Context, actor, approvalID string, decision Decision, comment string) (*Approval, *Post, error) {
	if !decision.Valid() {
		return nil, nil, apperrors.Validation([]apperrors.FieldError{{Field: "decision", Message: "must be APPROVED, REVISION_REQUESTED or REJECTED"}})
	}

	var approval *Approval
	var post *Post
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := s.posts.GetApproval(ctx, tx, approvalID)
		if err != nil {
			return err
		}
		if a == nil {
			return apperrors.NotFound("approval", approvalID)
		}
		if a.Status != ApprovalPending {
			return apperrors.New(apperrors.KindApprovalNotPending, "approval %s is already %s", approvalID, a.Status)
		}

		p, err := s.mustGet(ctx, tx, a.PostID)
		if err != nil {
			return err
		}
		if p.Status != a.Type.reviewStatus() {
			return apperrors.New(apperrors.KindInvalidTransition, "post %s is %s, not in %s review", p.ID, p.Status, a.Type)
		}

		if decision == DecisionApproved && a.Type == ApprovalClient {
			internal, err := s.posts.LatestApproval(ctx, tx, p.ID, ApprovalInternal)
			if err != nil {
				return err
			}
			if internal == nil || internal.Status != ApprovalApproved {
				return apperrors.New(apperrors.KindNotApproved, "post %s has no internal approval", p.ID)
			}
		}

		now := s.now()
		ok, err := s.posts.CloseApproval(ctx, tx, a.ID, ApprovalStatus(decision), actor, comment, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.New(apperrors.KindApprovalNotPending, "approval %s was closed concurrently", approvalID)
		}
		a.Status = ApprovalStatus(decision)
		a.Responder = actor
		a.Comment = comment
		a.RespondedAt = &now

		to, event := decision.outcome(a.Type)
		err = s.transition(ctx, tx, p, to, actor, comment, event, map[string]interface{}{
			"approval_id":   a.ID,
			"approval_type": a.Type,
			"decision":      decision,
			"comment":       comment,
		})
		approval, post = a, p
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return approval, post, nil
}

// SchedulePublish fans an APPROVED post out into one publish job per platform. Content
// is validated against every platform first; nothing is written unless all pass.
func (s *Service) SchedulePublish(ctx context.Context, actor, postID string, scheduledFor int64) (*Post, []*jobs.Job, error) {
	p, err := s.mustGet(ctx, s.db, postID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != StatusApproved {
		return nil, nil, apperrors.New(apperrors.KindNotApproved, "post %s is %s, not APPROVED", postID, p.Status)
	}
	if scheduledFor <= s.now() {
		return nil, nil, apperrors.New(apperrors.KindPastSchedule, "scheduled_for %d is not in the future", scheduledFor)
	}
	if err := s.validateForPlatforms(p); err != nil {
		return nil, nil, err
	}

	var created []*jobs.Job
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// re-read: the status may have moved since validation
		current, err := s.mustGet(ctx, tx, postID)
		if err != nil {
			return err
		}
		if current.Status != StatusApproved {
			return apperrors.New(apperrors.KindNotApproved, "post %s is %s, not APPROVED", postID, current.Status)
		}

		now := s.now()
		for _, platform := range current.Platforms {
			j := jobs.NewJob(s.tenantID, postID, platform, scheduledFor, s.deps.MaxAttempts, now)
			if err := s.jobs.InsertTx(ctx, tx, j); err != nil {
				return fmt.Errorf("insert job for %s: %w", platform, err)
			}
			created = append(created, j)
		}
		if err := s.posts.SetScheduledFor(ctx, tx, postID, scheduledFor, now); err != nil {
			return err
		}
		current.ScheduledFor = &scheduledFor

		summary := make([]map[string]string, 0, len(created))
		for _, j := range created {
			summary = append(summary, map[string]string{"job_id": j.ID, "platform": j.Platform})
		}
		err = s.transition(ctx, tx, current, StatusScheduled, actor, "", webhooks.EventPostScheduled, map[string]interface{}{
			"scheduled_for": scheduledFor,
			"jobs":          summary,
		})
		p = current
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("tenant_id", s.tenantID).Str("post_id", postID).Int("jobs", len(created)).
		Int64("scheduled_for", scheduledFor).Msg("post scheduled")
	return p, created, nil
}

// Cancel archives a post from any non-terminal state. Pending and manual jobs are
// cancelled and open approvals closed; running jobs finish and are recorded.
func (s *Service) Cancel(ctx context.Context, actor, postID, reason string) (*Post, error) {
	var post *Post
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := s.mustGet(ctx, tx, postID)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return apperrors.InvalidTransition(string(p.Status), string(StatusArchived))
		}

		now := s.now()
		cancelled, err := s.jobs.CancelOpenTx(ctx, tx, postID, "post cancelled: "+reason, now)
		if err != nil {
			return err
		}
		if _, err := s.posts.ClosePendingApprovals(ctx, tx, postID, ApprovalRejected, SystemActor, "post cancelled", now); err != nil {
			return err
		}
		err = s.transition(ctx, tx, p, StatusArchived, actor, reason, webhooks.EventPostCancelled, map[string]interface{}{
			"reason":         reason,
			"jobs_cancelled": cancelled,
		})
		post = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *Service) GetPost(ctx context.Context, postID string) (*PostDetail, error) {
	p, err := s.mustGet(ctx, s.db, postID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.posts.ListApprovals(ctx, s.db, postID)
	if err != nil {
		return nil, err
	}
	list, err := s.jobs.ListByPost(ctx, s.db, postID)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.jobs.Breakdown(ctx, s.db, postID)
	if err != nil {
		return nil, err
	}
	return &PostDetail{Post: p, Approvals: approvals, Jobs: list, Breakdown: breakdown}, nil
}

func (s *Service) ListPosts(ctx context.Context, status Status, limit int) ([]*Post, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.Validation([]apperrors.FieldError{{Field: "status", Message: "unknown status"}})
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.posts.List(ctx, status, limit)
}

// History returns the post's transitions in order.
func (s *Service) History(ctx context.Context, postID string) ([]*audit.Entry, error) {
	if _, err := s.mustGet(ctx, s.db, postID); err != nil {
		return nil, err
	}
	return s.deps.History.List(ctx, s.db, postID)
}

// MarkPublishingTx moves a SCHEDULED post to PUBLISHING when its first job is claimed.
// Posts in any other state are left alone.
func (s *Service) MarkPublishingTx(ctx context.Context, tx *sql.Tx, postID string) (bool, error) {
	p, err := s.mustGet(ctx, tx, postID)
	if err != nil {
		return false, err
	}
	if p.Status != StatusScheduled {
		return false, nil
	}
	return true, s.transition(ctx, tx, p, StatusPublishing, SystemActor, "", webhooks.EventPostPublishing, nil)
}

// MarkDeliveredIfCompleteTx moves the post to DELIVERED once every job that was not
// cancelled has succeeded. Archived posts are never revived.
func (s *Service) MarkDeliveredIfCompleteTx(ctx context.Context, tx *sql.Tx, postID string) (bool, error) {
	p, err := s.mustGet(ctx, tx, postID)
	if err != nil {
		return false, err
	}
	if p.Status != StatusPublishing && p.Status != StatusScheduled {
		return false, nil
	}
	breakdown, err := s.jobs.Breakdown(ctx, tx, postID)
	if err != nil {
		return false, err
	}
	if !breakdown.Delivered() {
		return false, nil
	}
	return true, s.transition(ctx, tx, p, StatusDelivered, SystemActor, "", webhooks.EventPostDelivered, map[string]interface{}{
		"breakdown": breakdown,
	})
}

// transition moves p to `to` with a compare-and-set, writes history and emits exactly
// one event, all inside tx.
func (s *Service) transition(ctx context.Context, tx *sql.Tx, p *Post, to Status, actor, note, eventType string, extra map[string]interface{}) error {
	from := p.Status
	if !CanTransition(from, to) {
		return apperrors.InvalidTransition(string(from), string(to))
	}

	now := s.now()
	ok, err := s.posts.UpdateStatus(ctx, tx, p.ID, from, to, now)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.New(apperrors.KindInvalidTransition, "post %s left %s concurrently", p.ID, from)
	}
	p.Status = to
	p.UpdatedAt = now

	if err := s.history(ctx, tx, p.ID, from, to, actor, note); err != nil {
		return err
	}
	if _, err := s.deps.Emitter.Emit(ctx, tx, s.tenantID, eventType, webhooks.EntityPost, p.ID, postPayload(p, from, actor, extra)); err != nil {
		return err
	}

	s.deps.Metrics.RecordTransition(ctx, string(from), string(to))
	log.Info().Str("tenant_id", s.tenantID).Str("post_id", p.ID).Str("from", string(from)).
		Str("to", string(to)).Str("actor", actor).Msg("post transition")
	return nil
}

func (s *Service) history(ctx context.Context, tx *sql.Tx, postID string, from, to Status, actor, note string) error {
	return s.deps.History.Log(ctx, tx, &audit.Entry{
		PostID:     postID,
		TenantID:   s.tenantID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Actor:      actor,
		Note:       note,
		CreatedAt:  s.now(),
	})
}

func (s *Service) mustGet(ctx context.Context, q database.DBTX, postID string) (*Post, error) {
	p, err := s.posts.Get(ctx, q, postID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.NotFound("post", postID)
	}
	return p, nil
}

func (s *Service) validateInput(in PostInput) error {
	var fields []apperrors.FieldError
	if strings.TrimSpace(in.Title) == "" {
		fields = append(fields, apperrors.FieldError{Field: "title", Message: "is required"})
	}
	if !in.ContentType.Valid() {
		fields = append(fields, apperrors.FieldError{Field: "content_type", Message: fmt.Sprintf("unknown content type %q", in.ContentType)})
	}
	if len(in.Platforms) == 0 {
		fields = append(fields, apperrors.FieldError{Field: "platforms", Message: "at least one platform is required"})
	}
	seen := make(map[string]bool, len(in.Platforms))
	for i, platform := range in.Platforms {
		field := fmt.Sprintf("platforms[%d]", i)
		if seen[platform] {
			fields = append(fields, apperrors.FieldError{Field: field, Message: "duplicate platform " + platform})
			continue
		}
		seen[platform] = true
		if _, ok := s.deps.Registry.Lookup(platform); !ok {
			fields = append(fields, apperrors.FieldError{Field: field, Message: "unknown platform " + platform})
		}
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields)
	}
	return nil
}

// validateForPlatforms runs every target adapter's Validate; fields are prefixed with
// the platform id.
func (s *Service) validateForPlatforms(p *Post) error {
	var fields []apperrors.FieldError
	for _, platform := range p.Platforms {
		adapter, ok := s.deps.Registry.Lookup(platform)
		if !ok {
			fields = append(fields, apperrors.FieldError{Field: "platforms", Message: "unknown platform " + platform})
			continue
		}
		res := adapter.Validate(p.PublishRequest(platform))
		for _, f := range res.Errors {
			fields = append(fields, apperrors.FieldError{Field: platform + "." + f.Field, Message: f.Message})
		}
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields)
	}
	return nil
}

func postPayload(p *Post, from Status, actor string, extra map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"post_id": p.ID,
		"title":   p.Title,
		"status":  p.Status,
		"version": p.Version,
		"actor":   actor,
	}
	if from != "" {
		payload["previous_status"] = from
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
