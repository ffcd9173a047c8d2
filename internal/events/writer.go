package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine and the webhook notifier.
const (
	TaskCreated      = "task.created"
	TaskProcessing   = "task.processing"
	TaskCompleted    = "task.completed"
	TaskFailed       = "task.failed"
	WebhookDelivered = "webhook.delivered"
	WebhookFailed    = "webhook.failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one lifecycle event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, taskID string, payload EventPayload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,task_id,payload_json) VALUES (?,?,?,?)`,
		ts, evtType, nullable(taskID), string(data))
	return err
}

// AppendDirect records one event outside any transaction. Used by the
// webhook notifier, whose outcome must not hold a task transition open.
func (w Writer) AppendDirect(ctx context.Context, evtType, taskID string, payload EventPayload) error {
	ts := w.now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,task_id,payload_json) VALUES (?,?,?,?)`,
		ts, evtType, nullable(taskID), string(data))
	return err
}

func (w Writer) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
