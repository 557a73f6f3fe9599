package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ganttline/internal/db"
)

const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"
	NodeCreated    = "node.created"
	NodeRenamed    = "node.renamed"
	NodeMoved      = "node.moved"
	NodeDeleted    = "node.deleted"
	TreeRepaired   = "tree.repaired"
)

// Types lists every event type the engine emits.
var Types = []string{
	ProjectCreated, ProjectUpdated, ProjectDeleted,
	NodeCreated, NodeRenamed, NodeMoved, NodeDeleted, TreeRepaired,
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event on q, which is the transaction carrying the
// change it describes.
func (w Writer) Append(ctx context.Context, q db.DBTX, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
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
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
