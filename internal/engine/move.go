package engine

import (
	"context"
	"errors"
	"time"

	"ganttline/internal/db"
	"ganttline/internal/domain"
	"ganttline/internal/events"
	"ganttline/internal/wbs"
)

// MoveOptions relocates NodeID under TargetParentID (root level when nil or
// equal to the project id) at TargetIndex among its new siblings.
type MoveOptions struct {
	NodeID         string
	TargetParentID *string
	TargetIndex    int
	ActorID        string
}

type MoveResult struct {
	Node     domain.WbsNode `json:"node"`
	Case     wbs.MoveCase   `json:"case"`
	Index    int            `json:"index"`
	Shifted  int            `json:"shifted"`
	Healed   int            `json:"healed,omitempty"`
	Attempts int            `json:"attempts"`
}

func (r MoveResult) NoOp() bool { return r.Case == wbs.MoveNoOp }

const retryBackoff = 20 * time.Millisecond

// MoveNode runs the move in one transaction, retrying the whole attempt
// when it loses the write lock to a concurrent writer.
func (e Engine) MoveNode(ctx context.Context, opts MoveOptions) (MoveResult, error) {
	if opts.NodeID == "" {
		return MoveResult{}, domain.Required("node_id")
	}
	attempts := e.cfg().Tree.MaxMoveRetries + 1
	for attempt := 1; ; attempt++ {
		res, err := e.moveOnce(ctx, opts)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= attempts {
			e.log().Warn("move node failed", "node_id", opts.NodeID,
				"target_parent_id", domain.ParentKey(opts.TargetParentID), "target_index", opts.TargetIndex,
				"attempt", attempt, "err", err)
			return MoveResult{}, err
		}
		e.log().Debug("move conflicted, retrying", "node_id", opts.NodeID, "attempt", attempt)
		select {
		case <-ctx.Done():
			return MoveResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
}

func (e Engine) moveOnce(ctx context.Context, opts MoveOptions) (MoveResult, error) {
	var res MoveResult
	err := e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		node, err := e.Repo.GetNode(ctx, tx, opts.NodeID)
		if err != nil {
			return notFound(err, "wbs node", opts.NodeID)
		}
		if opts.TargetParentID != nil && *opts.TargetParentID == node.ID {
			return domain.CyclicMoveError{NodeID: node.ID, TargetParentID: node.ID}
		}
		target, err := e.resolveParent(ctx, tx, node.ProjectID, opts.TargetParentID)
		if err != nil {
			return err
		}
		sameParent := domain.SameParent(node.ParentID, target)
		if !sameParent && target != nil {
			if err := e.checkNoCycle(ctx, tx, node, target); err != nil {
				return err
			}
		}

		source, err := e.Repo.ListSiblings(ctx, tx, node.ProjectID, node.ParentID)
		if err != nil {
			return err
		}
		if sameParent {
			// decided on the stored rows so a gapped group is not healed
			// by a move that goes nowhere
			rank := siblingRank(source, node.ID)
			if idx := wbs.NormalizeInsertIndex(len(source)-1, opts.TargetIndex); idx == rank {
				res = MoveResult{Node: node, Case: wbs.MoveNoOp, Index: idx}
				e.log().Debug("move planned", "node_id", node.ID, "case", wbs.MoveNoOp,
					"requested_index", opts.TargetIndex, "index", idx)
				return nil
			}
		}

		now := e.stamp()
		healed, source, err := e.heal(ctx, tx, source, now)
		if err != nil {
			return err
		}
		dest := source
		if !sameParent {
			if dest, err = e.Repo.ListSiblings(ctx, tx, node.ProjectID, target); err != nil {
				return err
			}
			var more []wbs.Mutation
			if more, dest, err = e.heal(ctx, tx, dest, now); err != nil {
				return err
			}
			healed = append(healed, more...)
		}
		for _, s := range source {
			if s.ID == node.ID {
				node = s
			}
		}

		plan, err := wbs.PlanMove(node, wbs.MoveTarget{ParentID: target, Index: opts.TargetIndex}, source, dest)
		if err != nil {
			return err
		}
		e.log().Debug("move planned", "node_id", node.ID, "case", plan.Case,
			"requested_index", opts.TargetIndex, "index", plan.Index, "shifts", len(plan.Shifts), "healed", len(healed))

		res = MoveResult{Node: node, Case: plan.Case, Index: plan.Index, Shifted: len(plan.Shifts), Healed: len(healed)}
		if plan.NoOp() {
			return nil
		}
		if err := e.Repo.ApplyMutations(ctx, tx, plan.Mutations(), now); err != nil {
			return err
		}
		res.Node.ParentID = plan.Moved.ParentID
		res.Node.Order = plan.Moved.Order
		res.Node.UpdatedAt = now
		payload := events.EventPayload{
			"from_parent_id": node.ParentID,
			"from_order":     node.Order,
			"to_parent_id":   plan.Moved.ParentID,
			"to_order":       plan.Moved.Order,
			"case":           plan.Case,
			"shifted":        len(plan.Shifts),
		}
		if len(healed) > 0 {
			payload["healed"] = healed
		}
		return e.appendEvent(ctx, tx, events.NodeMoved, node.ProjectID, "wbs_node", node.ID, opts.ActorID, payload)
	})
	return res, err
}

// checkNoCycle loads the project's parent links and refuses a target that
// sits inside node's subtree.
func (e Engine) checkNoCycle(ctx context.Context, tx db.DBTX, node domain.WbsNode, target *string) error {
	all, err := e.Repo.ListProjectNodes(ctx, tx, node.ProjectID)
	if err != nil {
		return err
	}
	parents := make(map[string]*string, len(all))
	for _, n := range all {
		parents[n.ID] = n.ParentID
	}
	return wbs.CheckNoCycle(parents, node.ID, target)
}

// heal densifies a sibling group that a non-compacting delete left with a
// gap, so the planner always starts from 0..n-1. The returned mutations are
// the renumbering writes already applied.
func (e Engine) heal(ctx context.Context, tx db.DBTX, group []domain.WbsNode, now string) ([]wbs.Mutation, []domain.WbsNode, error) {
	muts := wbs.Densify(group)
	if len(muts) == 0 {
		return nil, group, nil
	}
	if err := e.Repo.ApplyMutations(ctx, tx, muts, now); err != nil {
		return nil, nil, err
	}
	healed := wbs.Apply(group, muts)
	wbs.SortSiblings(healed)
	return muts, healed, nil
}

// siblingRank is the display position of id within an ordered group.
func siblingRank(group []domain.WbsNode, id string) int {
	for i, n := range group {
		if n.ID == id {
			return i
		}
	}
	return -1
}
