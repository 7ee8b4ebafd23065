package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contentflow/internal/platform/database"

	"github.com/google/uuid"
)

// Repository stores posts and approvals. Status changes are compare-and-set on the
// current status; callers treat zero affected rows as a lost race.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const postColumns = `id, tenant_id, title, caption, hashtags, media, platforms, content_type, status,
	scheduled_for, version, created_by, created_at, updated_at`

const approvalColumns = `id, post_id, tenant_id, approval_type, status, requested_by, requested_at,
	responded_at, COALESCE(responder, ''), COALESCE(comment, '')`

func (r *Repository) Insert(ctx context.Context, tx *sql.Tx, p *Post) error {
	hashtags, media, plats, err := encodeContent(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, tenant_id, title, caption, hashtags, media, platforms, content_type, status,
			version, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.TenantID, p.Title, p.Caption, hashtags, media, plats, p.ContentType, p.Status,
		p.Version, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	return err
}

// Get returns nil, nil when the post does not exist.
func (r *Repository) Get(ctx context.Context, q database.DBTX, id string) (*Post, error) {
	p, err := scanPost(q.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// List returns posts newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status Status, limit int) ([]*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *Repository) UpdateStatus(ctx context.Context, q database.DBTX, id string, from, to Status, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE posts SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, now, id, from))
}

func (r *Repository) SetScheduledFor(ctx context.Context, tx *sql.Tx, id string, scheduledFor, now int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE posts SET scheduled_for = ?, updated_at = ? WHERE id = ?`, scheduledFor, now, id)
	return err
}

// UpdateContent writes the editable fields and bumps the version, provided the post is
// still at version and in an editable state.
func (r *Repository) UpdateContent(ctx context.Context, tx *sql.Tx, p *Post, version int, now int64) (bool, error) {
	hashtags, media, plats, err := encodeContent(p)
	if err != nil {
		return false, err
	}
	return affected(tx.ExecContext(ctx, `
		UPDATE posts SET title = ?, caption = ?, hashtags = ?, media = ?, platforms = ?, content_type = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status IN (?, ?, ?)
	`, p.Title, p.Caption, hashtags, media, plats, p.ContentType, now,
		p.ID, version, StatusDraft, StatusRevisionNeeded, StatusClientRevision))
}

func (r *Repository) InsertApproval(ctx context.Context, tx *sql.Tx, a *Approval) error {
	if a.ID == "" {
		a.ID = "apr_" + uuid.New().String()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO approvals (id, post_id, tenant_id, approval_type, status, requested_by, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.PostID, a.TenantID, a.Type, a.Status, a.RequestedBy, a.RequestedAt)
	return err
}

func (r *Repository) GetApproval(ctx context.Context, q database.DBTX, id string) (*Approval, error) {
	a, err := scanApproval(q.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// LatestApproval returns the most recently requested approval of type t, or nil.
func (r *Repository) LatestApproval(ctx context.Context, q database.DBTX, postID string, t ApprovalType) (*Approval, error) {
	a, err := scanApproval(q.QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM approvals
		WHERE post_id = ? AND approval_type = ?
		ORDER BY requested_at DESC, rowid DESC LIMIT 1
	`, postID, t))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *Repository) HasPending(ctx context.Context, q database.DBTX, postID string, t ApprovalType) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM approvals WHERE post_id = ? AND approval_type = ? AND status = ?
	`, postID, t, ApprovalPending).Scan(&n)
	return n > 0, err
}

func (r *Repository) ListApprovals(ctx context.Context, q database.DBTX, postID string) ([]*Approval, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approvals WHERE post_id = ? ORDER BY requested_at, rowid
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// CloseApproval records a response on a PENDING approval. It returns false when the
// approval was already closed.
func (r *Repository) CloseApproval(ctx context.Context, q database.DBTX, id string, status ApprovalStatus, responder, comment string, now int64) (bool, error) {
	return affected(q.ExecContext(ctx, `
		UPDATE approvals SET status = ?, responder = ?, comment = ?, responded_at = ?
		WHERE id = ? AND status = ?
	`, status, responder, comment, now, id, ApprovalPending))
}

func (r *Repository) ClosePendingApprovals(ctx context.Context, tx *sql.Tx, postID string, status ApprovalStatus, responder, comment string, now int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE approvals SET status = ?, responder = ?, comment = ?, responded_at = ?
		WHERE post_id = ? AND status = ?
	`, status, responder, comment, now, postID, ApprovalPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeContent(p *Post) (hashtags, media, plats string, err error) {
	h, err := json.Marshal(nonNil(p.Hashtags))
	if err != nil {
		return "", "", "", fmt.Errorf("encode hashtags: %w", err)
	}
	m, err := json.Marshal(p.Media)
	if err != nil {
		return "", "", "", fmt.Errorf("encode media: %w", err)
	}
	if p.Media == nil {
		m = []byte("[]")
	}
	pl, err := json.Marshal(nonNil(p.Platforms))
	if err != nil {
		return "", "", "", fmt.Errorf("encode platforms: %w", err)
	}
	return string(h), string(m), string(pl), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanPost(row interface{ Scan(...interface{}) error }) (*Post, error) {
	var p Post
	var hashtags, media, plats string
	var scheduled sql.NullInt64
	err := row.Scan(&p.ID, &p.TenantID, &p.Title, &p.Caption, &hashtags, &media, &plats, &p.ContentType,
		&p.Status, &scheduled, &p.Version, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if scheduled.Valid {
		p.ScheduledFor = &scheduled.Int64
	}
	if err := json.Unmarshal([]byte(hashtags), &p.Hashtags); err != nil {
		return nil, fmt.Errorf("decode hashtags of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(media), &p.Media); err != nil {
		return nil, fmt.Errorf("decode media of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(plats), &p.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms of %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanApproval(row interface{ Scan(...interface{}) error }) (*Approval, error) {
	var a Approval
	var responded sql.NullInt64
	err := row.Scan(&a.ID, &a.PostID, &a.TenantID, &a.Type, &a.Status, &a.RequestedBy, &a.RequestedAt,
		&responded, &a.Responder, &a.Comment)
	if err != nil {
		return nil, err
	}
	if responded.Valid {
		a.RespondedAt = &responded.Int64
	}
	return &a, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
