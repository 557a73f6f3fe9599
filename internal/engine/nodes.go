package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"ganttline/internal/db"
	"ganttline/internal/domain"
	"ganttline/internal/events"
	"ganttline/internal/wbs"
)

// AddNodeOptions creates a node at the end of ParentID's children. A nil
// ParentID, or one equal to ProjectID, adds at root level.
type AddNodeOptions struct {
	ID        string
	ProjectID string
	ParentID  *string
	Name      string
	ActorID   string
}

func (e Engine) AddNode(ctx context.Context, opts AddNodeOptions) (domain.WbsNode, error) {
	if strings.TrimSpace(opts.ProjectID) == "" {
		return domain.WbsNode{}, domain.Required("project_id")
	}
	name, err := requireName("name", opts.Name)
	if err != nil {
		return domain.WbsNode{}, err
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	var n domain.WbsNode
	err = e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		if _, err := e.Repo.GetProject(ctx, tx, opts.ProjectID); err != nil {
			return notFound(err, "project", opts.ProjectID)
		}
		parentID, err := e.resolveParent(ctx, tx, opts.ProjectID, opts.ParentID)
		if err != nil {
			return err
		}
		siblings, err := e.Repo.ListSiblings(ctx, tx, opts.ProjectID, parentID)
		if err != nil {
			return err
		}
		now := e.stamp()
		n = domain.WbsNode{
			ID:        id,
			ProjectID: opts.ProjectID,
			ParentID:  parentID,
			Name:      name,
			Order:     wbs.NextOrder(siblings),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Repo.InsertNode(ctx, tx, n); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.NodeCreated, n.ProjectID, "wbs_node", n.ID, opts.ActorID, events.EventPayload{
			"name":      n.Name,
			"parent_id": n.ParentID,
			"order":     n.Order,
		})
	})
	if err != nil {
		e.log().Warn("add node failed", "project_id", opts.ProjectID, "parent_id", domain.ParentKey(opts.ParentID), "err", err)
		return domain.WbsNode{}, err
	}
	return n, nil
}

// EditNode renames a node. Its position is untouched.
func (e Engine) EditNode(ctx context.Context, id, name, actorID string) (domain.WbsNode, error) {
	name, err := requireName("name", name)
	if err != nil {
		return domain.WbsNode{}, err
	}
	var n domain.WbsNode
	err = e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		cur, err := e.Repo.GetNode(ctx, tx, id)
		if err != nil {
			return notFound(err, "wbs node", id)
		}
		now := e.stamp()
		if err := e.Repo.RenameNode(ctx, tx, id, name, now); err != nil {
			return err
		}
		n = cur
		n.Name = name
		n.UpdatedAt = now
		return e.appendEvent(ctx, tx, events.NodeRenamed, n.ProjectID, "wbs_node", n.ID, actorID, events.EventPayload{
			"from": cur.Name,
			"to":   name,
		})
	})
	if err != nil {
		e.log().Warn("edit node failed", "node_id", id, "err", err)
		return domain.WbsNode{}, err
	}
	return n, nil
}

// DeleteResult reports what a cascade delete removed.
type DeleteResult struct {
	NodeID        string   `json:"node_id"`
	ProjectID     string   `json:"project_id"`
	Deleted       int      `json:"deleted"`
	DescendantIDs []string `json:"descendant_ids"`
	Compacted     int      `json:"compacted"`
}

// DeleteNode removes the node and its whole subtree in one transaction.
// The former siblings keep their orders unless tree.compact_on_delete is set.
func (e Engine) DeleteNode(ctx context.Context, id, actorID string) (DeleteResult, error) {
	var res DeleteResult
	err := e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		n, err := e.Repo.GetNode(ctx, tx, id)
		if err != nil {
			return notFound(err, "wbs node", id)
		}
		all, err := e.Repo.ListProjectNodes(ctx, tx, n.ProjectID)
		if err != nil {
			return err
		}
		desc := wbs.Descendants(all, n.ID)
		deleted, err := e.Repo.DeleteNodes(ctx, tx, append(append([]string(nil), desc...), n.ID))
		if err != nil {
			return err
		}
		res = DeleteResult{NodeID: n.ID, ProjectID: n.ProjectID, Deleted: deleted, DescendantIDs: desc}
		if desc == nil {
			res.DescendantIDs = []string{}
		}

		if e.cfg().Tree.CompactOnDelete {
			siblings, err := e.Repo.ListSiblings(ctx, tx, n.ProjectID, n.ParentID)
			if err != nil {
				return err
			}
			muts := wbs.Densify(siblings)
			if err := e.Repo.ApplyMutations(ctx, tx, muts, e.stamp()); err != nil {
				return err
			}
			res.Compacted = len(muts)
		}
		return e.appendEvent(ctx, tx, events.NodeDeleted, n.ProjectID, "wbs_node", n.ID, actorID, events.EventPayload{
			"parent_id":      n.ParentID,
			"order":          n.Order,
			"deleted":        res.Deleted,
			"descendant_ids": res.DescendantIDs,
			"compacted":      res.Compacted,
		})
	})
	if err != nil {
		e.log().Warn("delete node failed", "node_id", id, "err", err)
		return DeleteResult{}, err
	}
	e.log().Debug("node deleted", "node_id", id, "deleted", res.Deleted, "compacted", res.Compacted)
	return res, nil
}

// TreeOptions controls ListTree output.
type TreeOptions struct {
	// IncludeProjectRoot wraps the roots in one synthetic node built from
	// the project.
	IncludeProjectRoot bool
}

func (e Engine) ListTree(ctx context.Context, projectID string, opts TreeOptions) ([]*domain.TreeNode, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.Repo.ListProjectNodes(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	roots := wbs.Assemble(nodes)
	if opts.IncludeProjectRoot {
		return []*domain.TreeNode{wbs.WithProjectRoot(p, roots)}, nil
	}
	return roots, nil
}

func (e Engine) ListNodes(ctx context.Context, projectID string) ([]domain.WbsNode, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	nodes, err := e.Repo.ListProjectNodes(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []domain.WbsNode{}
	}
	return nodes, nil
}

func (e Engine) GetNode(ctx context.Context, id string) (domain.WbsNode, error) {
	n, err := e.Repo.GetNode(ctx, nil, id)
	return n, notFound(err, "wbs node", id)
}
