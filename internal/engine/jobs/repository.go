package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contentflow/internal/engine/platforms"
	"contentflow/internal/platform/database"

	"github.com/google/uuid"
)

// Repository reads and writes publish_jobs. Every status change is a single UPDATE
// conditioned on the current status; a false return means another writer got there first.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const jobColumns = `id, post_id, tenant_id, platform, status, scheduled_for, attempts, max_attempts,
	COALESCE(last_error, ''), COALESCE(error_kind, ''), COALESCE(platform_post_id, ''),
	next_retry_at, claimed_at, idempotency_key, metrics, created_at, updated_at`

func NewJob(tenantID, postID, platform string, scheduledFor int64, maxAttempts int, now int64) *Job {
	id := "job_" + uuid.New().String()
	return &Job{
		ID:             id,
		PostID:         postID,
		TenantID:       tenantID,
		Platform:       platform,
		Status:         StatusPending,
		ScheduledFor:   scheduledFor,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: platforms.IdempotencyKey(id),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *Repository) InsertTx(ctx context.Context, tx *sql.Tx, j *Job) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO publish_jobs (id, post_id, tenant_id, platform, status, scheduled_for, attempts, max_attempts,
			idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.PostID, j.TenantID, j.Platform, j.Status, j.ScheduledFor, j.Attempts, j.MaxAttempts,
		j.IdempotencyKey, j.CreatedAt, j.UpdatedAt)
	return err
}

// Get returns nil, nil when the job does not exist.
func (r *Repository) Get(ctx context.Context, q database.DBTX, id string) (*Job, error) {
	j, err := scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM publish_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *Repository) ListByPost(ctx context.Context, q database.DBTX, postID string) ([]*Job, error) {
	return r.list(ctx, q, `SELECT `+jobColumns+` FROM publish_jobs WHERE post_id = ? ORDER BY platform`, postID)
}

// Due returns PENDING jobs whose schedule and retry time have both passed.
func (r *Repository) Due(ctx context.Context, now int64, limit int) ([]*Job, error) {
	return r.list(ctx, r.db, `
		SELECT `+jobColumns+` FROM publish_jobs
		WHERE status = ? AND scheduled_for <= ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY COALESCE(next_retry_at, scheduled_for), id
		LIMIT ?
	`, StatusPending, now, now, limit)
}

// Stale returns RUNNING jobs claimed before cutoff.
func (r *Repository) Stale(ctx context.Context, cutoff int64, limit int) ([]*Job, error) {
	return r.list(ctx, r.db, `
		SELECT `+jobColumns+` FROM publish_jobs
		WHERE status = ? AND claimed_at < ?
		ORDER BY claimed_at LIMIT ?
	`, StatusRunning, cutoff, limit)
}

// Published returns SUCCEEDED jobs with a platform post id that finished after since,
// least recently checked for metrics first.
func (r *Repository) Published(ctx context.Context, since int64, limit int) ([]*Job, error) {
	return r.list(ctx, r.db, `
		SELECT `+jobColumns+` FROM publish_jobs
		WHERE status = ? AND platform_post_id IS NOT NULL AND platform_post_id != '' AND updated_at >= ?
		ORDER BY COALESCE(metrics_checked_at, 0), updated_at, id LIMIT ?
	`, StatusSucceeded, since, limit)
}

func (r *Repository) Breakdown(ctx context.Context, q database.DBTX, postID string) (Breakdown, error) {
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM publish_jobs WHERE post_id = ? GROUP BY status`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := make(Breakdown)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		b[s] = n
	}
	return b, rows.Err()
}

// Claim moves a due PENDING job to RUNNING and counts the attempt, returning the attempt
// number now stored on the row. Schedule, retry time and the attempt ceiling are all part
// of the condition, so a caller holding a stale copy of the job cannot claim it early or
// more than max_attempts times.
func (r *Repository) Claim(ctx context.Context, q database.DBTX, id string, now int64) (int, bool, error) {
	var attempts int
	err := q.QueryRowContext(ctx, `
		UPDATE publish_jobs
		SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND attempts < max_attempts
			AND scheduled_for <= ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
		RETURNING attempts
	`, StatusRunning, now, now, id, StatusPending, now, now).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

// FailValidation terminates a PENDING job without counting an attempt.
func (r *Repository) FailValidation(ctx context.Context, q database.DBTX, id, msg string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, error_kind = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusFailed, ErrorKindValidation, msg, now, id, StatusPending))
}

func (r *Repository) Succeed(ctx context.Context, q database.DBTX, id, platformPostID string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, platform_post_id = ?, last_error = NULL, error_kind = NULL,
			next_retry_at = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusSucceeded, platformPostID, now, id, StatusRunning))
}

func (r *Repository) AwaitManual(ctx context.Context, q database.DBTX, id, note string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, last_error = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusAwaitingManual, note, now, id, StatusRunning))
}

// Retry returns a RUNNING job to PENDING until nextRetryAt.
func (r *Repository) Retry(ctx context.Context, q database.DBTX, id, kind, msg string, nextRetryAt, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, error_kind = ?, last_error = ?, next_retry_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusPending, kind, msg, nextRetryAt, now, id, StatusRunning))
}

// Finish moves a RUNNING job to a terminal failure status (FAILED or CANCELLED).
func (r *Repository) Finish(ctx context.Context, q database.DBTX, id string, to Status, kind, msg string, now int64) (bool, error) {
	if to != StatusFailed && to != StatusCancelled {
		return false, fmt.Errorf("finish: %s is not a failure status", to)
	}
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, error_kind = ?, last_error = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, kind, msg, now, id, StatusRunning))
}

// ReleaseStale returns an abandoned RUNNING job to PENDING. The claim time is part of the
// condition so a worker that re-claimed the job in between is not disturbed.
func (r *Repository) ReleaseStale(ctx context.Context, q database.DBTX, id string, claimedAt, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, error_kind = ?, last_error = 'worker lease expired', next_retry_at = ?,
			claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND claimed_at = ?
	`, StatusPending, ErrorKindTimeout, now, now, id, StatusRunning, claimedAt))
}

func (r *Repository) FailStale(ctx context.Context, q database.DBTX, id string, claimedAt int64, kind, msg string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, error_kind = ?, last_error = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND claimed_at = ?
	`, StatusFailed, kind, msg, now, id, StatusRunning, claimedAt))
}

func (r *Repository) ConfirmManual(ctx context.Context, q database.DBTX, id, platformPostID string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, platform_post_id = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusSucceeded, platformPostID, now, id, StatusAwaitingManual))
}

// Requeue gives a FAILED job a fresh set of attempts.
func (r *Repository) Requeue(ctx context.Context, q database.DBTX, id string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, attempts = 0, error_kind = NULL, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusPending, now, id, StatusFailed))
}

// CancelOpenTx cancels every job of a post that has not started or is waiting on a human.
// RUNNING jobs are left to record their own outcome.
func (r *Repository) CancelOpenTx(ctx context.Context, tx *sql.Tx, postID, reason string, now int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE publish_jobs SET status = ?, error_kind = ?, last_error = ?, updated_at = ?
		WHERE post_id = ? AND status IN (?, ?)
	`, StatusCancelled, ErrorKindCancelled, reason, now, postID, StatusPending, StatusAwaitingManual)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveMetrics stores a snapshot and stamps the check time.
func (r *Repository) SaveMetrics(ctx context.Context, q database.DBTX, id string, e platforms.Engagement, now int64) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `UPDATE publish_jobs SET metrics = ?, metrics_checked_at = ? WHERE id = ?`, string(data), now, id)
	return err
}

// MarkMetricsChecked stamps a job whose platform returned nothing so the next pass
// moves on to other jobs.
func (r *Repository) MarkMetricsChecked(ctx context.Context, q database.DBTX, id string, now int64) error {
	_, err := q.ExecContext(ctx, `UPDATE publish_jobs SET metrics_checked_at = ? WHERE id = ?`, now, id)
	return err
}

func (r *Repository) list(ctx context.Context, q database.DBTX, query string, args ...interface{}) ([]*Job, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func scanJob(row interface{ Scan(...interface{}) error }) (*Job, error) {
	var j Job
	var nextRetry, claimed sql.NullInt64
	var metrics sql.NullString
	err := row.Scan(&j.ID, &j.PostID, &j.TenantID, &j.Platform, &j.Status, &j.ScheduledFor, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.ErrorKind, &j.PlatformPostID, &nextRetry, &claimed, &j.IdempotencyKey, &metrics,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if nextRetry.Valid {
		j.NextRetryAt = &nextRetry.Int64
	}
	if claimed.Valid {
		j.ClaimedAt = &claimed.Int64
	}
	if metrics.Valid && metrics.String != "" {
		var e platforms.Engagement
		if err := json.Unmarshal([]byte(metrics.String), &e); err == nil {
			j.Metrics = &e
		}
	}
	return &j, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
