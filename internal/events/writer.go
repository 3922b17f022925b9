package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	ItemSubmitted     = "item.submitted"
	ItemUnitsAdded    = "item.units_added"
	ItemWithdrawn     = "item.withdrawn"
	ItemRejected      = "item.rejected"
	ItemDelivered     = "item.delivered"
	ItemClaimed       = "item.claimed"
	ItemAssigned      = "item.assigned"
	ItemReleased      = "item.released"
	PaymentLocked     = "payment.locked"
	PaymentUnlocked   = "payment.unlocked"
	PaymentSettled    = "payment.settled"
	PaymentMismatch   = "payment.amount_mismatch"
	PaymentVoidedPaid = "payment.voided_intent_paid"
	ActorUpserted     = "actor.upserted"
	WarningResolved   = "warning.resolved"
)

// Writer appends audit events inside the caller's transaction so the event
// commits or rolls back with the state change it describes.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
