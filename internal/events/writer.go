package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const insertEvent = `
INSERT INTO events (ts, type, project_id, entity_kind, entity_id, actor_id, payload_json)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// Writer appends audit events inside the caller's transaction so the event
// row commits or rolls back with the mutation it describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) clock() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Append records one audit event. projectID and entityID may be empty and are
// stored as NULL; the payload always marshals, defaulting to an empty object.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if payload == nil {
		payload = EventPayload{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, insertEvent,
		w.clock().UTC().Format(time.RFC3339),
		evtType,
		orNull(projectID),
		entityKind,
		orNull(entityID),
		actorID,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
