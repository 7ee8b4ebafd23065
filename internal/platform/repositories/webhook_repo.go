package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"contentflow/internal/platform/models"

	"github.com/google/uuid"
)

type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const subscriberColumns = `id, tenant_id, url, events, secret, status, created_at, updated_at`

func (r *WebhookRepository) Create(ctx context.Context, s *models.WebhookSubscriber) error {
	now := time.Now().Unix()
	s.ID = "wh_" + uuid.New().String()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = models.SubscriberActive
	}
	if len(s.Events) == 0 {
		s.Events = []string{"*"}
	}

	eventsJSON, err := json.Marshal(s.Events)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhook_subscribers (id, tenant_id, url, events, secret, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TenantID, s.URL, string(eventsJSON), s.Secret, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetByID returns nil, nil when the subscriber does not exist.
func (r *WebhookRepository) GetByID(ctx context.Context, id string) (*models.WebhookSubscriber, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM webhook_subscribers WHERE id = ?`, id)
	s, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *WebhookRepository) List(ctx context.Context) ([]*models.WebhookSubscriber, error) {
	return r.query(ctx, `SELECT `+subscriberColumns+` FROM webhook_subscribers ORDER BY created_at DESC`)
}

func (r *WebhookRepository) ListActive(ctx context.Context) ([]*models.WebhookSubscriber, error) {
	return r.query(ctx, `SELECT `+subscriberColumns+` FROM webhook_subscribers WHERE status = ? ORDER BY created_at`, models.SubscriberActive)
}

// GetByEvent returns active subscribers whose filter accepts eventType.
// Filters are matched in Go; subscriber counts per tenant are small.
func (r *WebhookRepository) GetByEvent(ctx context.Context, eventType string) ([]*models.WebhookSubscriber, error) {
	active, err := r.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*models.WebhookSubscriber
	for _, s := range active {
		if s.Matches(eventType) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func (r *WebhookRepository) Update(ctx context.Context, s *models.WebhookSubscriber) error {
	eventsJSON, err := json.Marshal(s.Events)
	if err != nil {
		return err
	}
	s.UpdatedAt = time.Now().Unix()

	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_subscribers
		SET url = ?, events = ?, secret = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, s.URL, string(eventsJSON), s.Secret, s.Status, s.UpdatedAt, s.ID)
	return err
}

func (r *WebhookRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhook_subscribers WHERE id = ?`, id)
	return err
}

func (r *WebhookRepository) query(ctx context.Context, q string, args ...interface{}) ([]*models.WebhookSubscriber, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.WebhookSubscriber
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func scanSubscriber(row interface{ Scan(...interface{}) error }) (*models.WebhookSubscriber, error) {
	var s models.WebhookSubscriber
	var eventsStr string
	if err := row.Scan(&s.ID, &s.TenantID, &s.URL, &eventsStr, &s.Secret, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsStr), &s.Events); err != nil {
		return nil, err
	}
	return &s, nil
}
