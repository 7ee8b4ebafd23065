package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is one append-only row of a post's status history. History is for display
// and audit; control decisions always read the post's current status.
type Entry struct {
	ID         string `json:"id"`
	PostID     string `json:"post_id"`
	TenantID   string `json:"tenant_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Actor      string `json:"actor"`
	Note       string `json:"note,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

// Log records a transition in the caller's transaction so it commits or rolls back
// together with the status change.
func (l *Logger) Log(ctx context.Context, tx *sql.Tx, e *Entry) error {
	if e.ID == "" {
		e.ID = "hist_" + uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO post_history (id, post_id, tenant_id, from_status, to_status, actor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.PostID, e.TenantID, e.FromStatus, e.ToStatus, e.Actor, e.Note, e.CreatedAt)
	return err
}

func (l *Logger) List(ctx context.Context, db *sql.DB, postID string) ([]*Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, post_id, tenant_id, from_status, to_status, actor, COALESCE(note, ''), created_at
		FROM post_history WHERE post_id = ? ORDER BY created_at, rowid
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PostID, &e.TenantID, &e.FromStatus, &e.ToStatus, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
