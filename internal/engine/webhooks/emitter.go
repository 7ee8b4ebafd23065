package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Emitter records events in the transaction of the state change that produced them,
// so a rolled back change leaves no event behind.
type Emitter struct {
	clock clockwork.Clock
}

func NewEmitter(clock clockwork.Clock) *Emitter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Emitter{clock: clock}
}

func (e *Emitter) Emit(ctx context.Context, tx *sql.Tx, tenantID, eventType, entityType, entityID string, payload interface{}) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	ev := &Event{
		ID:         "evt_" + uuid.New().String(),
		TenantID:   tenantID,
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    body,
		EmittedAt:  e.clock.Now().Unix(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO webhook_events (id, tenant_id, event_type, entity_type, entity_id, payload, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.TenantID, ev.EventType, ev.EntityType, ev.EntityID, string(ev.Payload), ev.EmittedAt)
	if err != nil {
		return nil, fmt.Errorf("record %s event: %w", eventType, err)
	}
	return ev, nil
}
