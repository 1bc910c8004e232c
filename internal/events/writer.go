// Package events owns the append-only audit trail: every mutating engine
// operation records one event in the same transaction as the change itself.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies what happened. The set is closed: engine operations only
// emit the types below.
type Type string

const (
	TypeProjectCreated   Type = "project.created"
	TypeWbsImported      Type = "wbs.imported"
	TypeScheduleComputed Type = "schedule.computed"
	TypeBufferUpdated    Type = "buffer.updated"
)

// Kind names the entity an event refers to.
type Kind string

const (
	KindProject     Kind = "project"
	KindWbs         Kind = "wbs"
	KindScheduleRun Kind = "schedule_run"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType Type, projectID string, entityKind Kind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, string(evtType), nullable(projectID), string(entityKind), nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
