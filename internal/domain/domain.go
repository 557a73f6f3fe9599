package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// WbsNode is one persisted row of a project's work breakdown structure.
// Order is the zero-based position among the siblings sharing
// (ProjectID, ParentID).
type WbsNode struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"project_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Name      string  `json:"name"`
	Order     int     `json:"order"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

// TreeNode is the assembled, nested view of a WbsNode. The project root is
// synthetic: it is derived from the Project and never stored.
type TreeNode struct {
	ID            string      `json:"id"`
	ParentID      *string     `json:"parent_id,omitempty"`
	Name          string      `json:"name"`
	Order         int         `json:"order"`
	IsProjectRoot bool        `json:"is_project_root,omitempty"`
	Children      []*TreeNode `json:"children"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ParentKey renders a nullable parent id for logs and map keys.
func ParentKey(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}

// SameParent reports whether two nullable parent ids address the same group.
func SameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
