package webhooks

import (
	"context"
	"database/sql"

	"contentflow/internal/platform/database"

	"github.com/google/uuid"
)

// Repository holds webhook events and their per-subscriber deliveries.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, tenant_id, event_type, entity_type, entity_id, payload, emitted_at, fanned_out_at`

const deliveryColumns = `d.id, d.event_id, e.event_type, d.subscriber_id, d.url, d.status, d.attempts,
	COALESCE(d.signature, ''), COALESCE(d.response_code, 0), COALESCE(d.last_error, ''),
	d.next_attempt_at, d.claimed_at, d.delivered_at, d.created_at, d.updated_at`

func (r *Repository) GetEvent(ctx context.Context, id string) (*Event, error) {
	ev, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// Unfanned returns events that have not yet been turned into deliveries, oldest first.
func (r *Repository) Unfanned(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE fanned_out_at IS NULL ORDER BY emitted_at, rowid LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListEvents returns the events recorded for an entity in emission order.
func (r *Repository) ListEvents(ctx context.Context, q database.DBTX, entityID string) ([]*Event, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE entity_id = ? ORDER BY emitted_at, rowid`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// InsertDeliveryTx is a no-op when the event already has a delivery for the subscriber.
func (r *Repository) InsertDeliveryTx(ctx context.Context, tx *sql.Tx, eventID, subscriberID, url string, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO webhook_deliveries (id, event_id, subscriber_id, url, status, attempts, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, "dlv_"+uuid.New().String(), eventID, subscriberID, url, DeliveryPending, now, now, now)
	return err
}

func (r *Repository) MarkFannedOutTx(ctx context.Context, tx *sql.Tx, eventID string, now int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE webhook_events SET fanned_out_at = ? WHERE id = ? AND fanned_out_at IS NULL`, now, eventID)
	return err
}

func (r *Repository) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	d, err := scanDelivery(r.db.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries d JOIN webhook_events e ON e.id = d.event_id
		WHERE d.id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func (r *Repository) DueDeliveries(ctx context.Context, now int64, limit int) ([]*Delivery, error) {
	return r.listDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries d JOIN webhook_events e ON e.id = d.event_id
		WHERE d.status = ? AND d.next_attempt_at <= ?
		ORDER BY d.next_attempt_at, d.created_at LIMIT ?
	`, DeliveryPending, now, limit)
}

// Failed lists permanently failed deliveries, newest first.
func (r *Repository) Failed(ctx context.Context, limit int) ([]*Delivery, error) {
	return r.listDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries d JOIN webhook_events e ON e.id = d.event_id
		WHERE d.status = ? ORDER BY d.updated_at DESC LIMIT ?
	`, DeliveryFailed, limit)
}

func (r *Repository) StaleSending(ctx context.Context, cutoff int64, limit int) ([]*Delivery, error) {
	return r.listDeliveries(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries d JOIN webhook_events e ON e.id = d.event_id
		WHERE d.status = ? AND d.claimed_at < ? LIMIT ?
	`, DeliverySending, cutoff, limit)
}

// Claim moves a due PENDING delivery to SENDING and counts the attempt, returning the
// attempt number stored on the row. Deliveries at maxAttempts or still backing off are
// not claimed.
func (r *Repository) Claim(ctx context.Context, id string, maxAttempts int, now int64) (int, bool, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND next_attempt_at <= ? AND attempts < ?
		RETURNING attempts
	`, DeliverySending, now, now, id, DeliveryPending, now, maxAttempts).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

func (r *Repository) MarkDelivered(ctx context.Context, id, signature string, code int, now int64) (bool, error) {
	return affected(r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, signature = ?, response_code = ?, last_error = NULL,
			delivered_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, DeliveryDelivered, signature, code, now, now, id, DeliverySending))
}

// MarkAttemptFailed records a failed attempt and moves the delivery to next (PENDING
// for another try, FAILED once the ceiling is reached).
func (r *Repository) MarkAttemptFailed(ctx context.Context, id string, next DeliveryStatus, signature string, code int, msg string, nextAttemptAt, now int64) (bool, error) {
	return affected(r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, signature = ?, response_code = ?, last_error = ?,
			next_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, next, signature, code, msg, nextAttemptAt, now, id, DeliverySending))
}

func (r *Repository) ReleaseStale(ctx context.Context, id string, claimedAt, now int64) (bool, error) {
	return affected(r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, last_error = 'delivery lease expired', next_attempt_at = ?,
			claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND claimed_at = ?
	`, DeliveryPending, now, now, id, DeliverySending, claimedAt))
}

// FailStale fails an abandoned SENDING delivery that has no attempts left.
func (r *Repository) FailStale(ctx context.Context, id string, claimedAt, now int64) (bool, error) {
	return affected(r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, last_error = 'delivery lease expired on the last attempt',
			claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND claimed_at = ?
	`, DeliveryFailed, now, id, DeliverySending, claimedAt))
}

// Requeue gives a FAILED delivery a fresh set of attempts.
func (r *Repository) Requeue(ctx context.Context, id string, now int64) (bool, error) {
	return affected(r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET status = ?, attempts = 0, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, DeliveryPending, now, now, id, DeliveryFailed))
}

func (r *Repository) listDeliveries(ctx context.Context, query string, args ...interface{}) ([]*Delivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func scanEvent(row interface{ Scan(...interface{}) error }) (*Event, error) {
	var ev Event
	var payload string
	var fanned sql.NullInt64
	if err := row.Scan(&ev.ID, &ev.TenantID, &ev.EventType, &ev.EntityType, &ev.EntityID, &payload, &ev.EmittedAt, &fanned); err != nil {
		return nil, err
	}
	ev.Payload = []byte(payload)
	if fanned.Valid {
		ev.FannedOutAt = &fanned.Int64
	}
	return &ev, nil
}

func scanDelivery(row interface{ Scan(...interface{}) error }) (*Delivery, error) {
	var d Delivery
	var claimed, delivered sql.NullInt64
	err := row.Scan(&d.ID, &d.EventID, &d.EventType, &d.SubscriberID, &d.URL, &d.Status, &d.Attempts,
		&d.Signature, &d.ResponseCode, &d.LastError, &d.NextAttemptAt, &claimed, &delivered, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if claimed.Valid {
		d.ClaimedAt = &claimed.Int64
	}
	if delivered.Valid {
		d.DeliveredAt = &delivered.Int64
	}
	return &d, nil
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
