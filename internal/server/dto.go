package server

import (
	"encoding/json"

	"ganttline/internal/domain"
	"ganttline/internal/engine"
	"ganttline/internal/wbs"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name" minLength:"1"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type AddNodeRequest struct {
	ID       string  `json:"id,omitempty"`
	ParentID *string `json:"parent_id,omitempty" nullable:"true" doc:"Parent node id; omitted, null or the project id means root level"`
	Name     string  `json:"name"`
}

type EditNodeRequest struct {
	Name string `json:"name"`
}

type MoveNodeRequest struct {
	NodeID         string  `json:"node_id"`
	TargetParentID *string `json:"target_parent_id,omitempty" nullable:"true" doc:"New parent; omitted, null or the project id means root level"`
	TargetIndex    int     `json:"target_index" doc:"Zero-based position among the new siblings; clamped into range"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type NodeResponse struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	ParentID  *string `json:"parent_id" nullable:"true"`
	Name      string  `json:"name"`
	Order     int     `json:"order"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type MoveResponse struct {
	Node     NodeResponse `json:"node"`
	Case     string       `json:"case" enum:"noop,reorder,reparent,into_empty"`
	NoOp     bool         `json:"noop"`
	Index    int          `json:"index"`
	Shifted  int          `json:"shifted"`
	Healed   int          `json:"healed"`
	Attempts int          `json:"attempts"`
}

type DeleteNodeResponse struct {
	NodeID        string   `json:"node_id"`
	Deleted       int      `json:"deleted"`
	DescendantIDs []string `json:"descendant_ids"`
	Compacted     int      `json:"compacted"`
}

type TreeResponse struct {
	ProjectID string             `json:"project_id"`
	Roots     []*domain.TreeNode `json:"roots,omitempty"`
	Flat      []wbs.FlatNode     `json:"flat,omitempty"`
}

type CheckResponse struct {
	ProjectID  string          `json:"project_id"`
	Valid      bool            `json:"valid"`
	Violations []wbs.Violation `json:"violations"`
}

type RepairResponse struct {
	ProjectID string `json:"project_id"`
	Rewritten int    `json:"rewritten"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type EventsResponse struct {
	Items []EventResponse `json:"items"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func nodeResponse(n domain.WbsNode) NodeResponse {
	return NodeResponse{
		ID:        n.ID,
		ProjectID: n.ProjectID,
		ParentID:  n.ParentID,
		Name:      n.Name,
		Order:     n.Order,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func moveResponse(r engine.MoveResult) MoveResponse {
	return MoveResponse{
		Node:     nodeResponse(r.Node),
		Case:     string(r.Case),
		NoOp:     r.NoOp(),
		Index:    r.Index,
		Shifted:  r.Shifted,
		Healed:   r.Healed,
		Attempts: r.Attempts,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}
