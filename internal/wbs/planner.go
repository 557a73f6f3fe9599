package wbs

import (
	"ganttline/internal/domain"
)

// MoveCase names the kind of move a Plan performs. It is reported back to
// API callers and recorded in node.moved events.
type MoveCase string

const (
	// MoveNoOp leaves the node where it already is; nothing is written.
	MoveNoOp MoveCase = "noop"
	// MoveReorder changes the node's position among its current siblings.
	MoveReorder MoveCase = "reorder"
	// MoveReparent puts the node under a parent that already has children.
	MoveReparent MoveCase = "reparent"
	// MoveIntoEmpty puts the node under a parent with no other children.
	MoveIntoEmpty MoveCase = "into_empty"
)

// MoveTarget is where the caller wants the node to land: a parent (nil for
// root level) and the zero-based index among that parent's children after
// the move.
type MoveTarget struct {
	ParentID *string
	Index    int
}

// Plan is the full set of row writes for one move. Shifts are sibling order
// changes; Moved is the write for the node itself and is nil for a no-op.
type Plan struct {
	Case   MoveCase
	Index  int
	Shifts []Mutation
	Moved  *Mutation
}

// NoOp reports whether the plan leaves the tree unchanged.
func (p Plan) NoOp() bool { return p.Case == MoveNoOp }

// Mutations returns every write of the plan, sibling shifts first.
func (p Plan) Mutations() []Mutation {
	if p.Moved == nil {
		return nil
	}
	out := make([]Mutation, 0, len(p.Shifts)+1)
	out = append(out, p.Shifts...)
	return append(out, *p.Moved)
}

// PlanMove computes the writes that relocate node to target while keeping
// both the source and the destination sibling groups dense.
//
// source is the node's current sibling group (the node included). dest is
// the target parent's children; when the parent does not change it is
// ignored and source is used for both sides. Group membership is trusted:
// callers pass rows read inside the same transaction.
//
// The index is clamped into [0, k] where k is the size of the destination
// group without the moved node.
func PlanMove(node domain.WbsNode, target MoveTarget, source, dest []domain.WbsNode) (Plan, error) {
	if target.ParentID != nil && *target.ParentID == node.ID {
		return Plan{}, domain.CyclicMoveError{NodeID: node.ID, TargetParentID: node.ID}
	}
	if domain.SameParent(node.ParentID, target.ParentID) {
		return planReorder(node, target, source), nil
	}
	return planReparent(node, target, source, dest), nil
}

func planReorder(node domain.WbsNode, target MoveTarget, siblings []domain.WbsNode) Plan {
	others := without(siblings, node.ID)
	idx := NormalizeInsertIndex(len(others), target.Index)
	cur := node.Order
	if cur == idx {
		return Plan{Case: MoveNoOp, Index: idx}
	}
	var shifts []Mutation
	for _, s := range others {
		switch {
		case cur < idx && s.Order > cur && s.Order <= idx:
			// moving forward: the nodes it passes slide left
			shifts = append(shifts, Mutation{NodeID: s.ID, ParentID: s.ParentID, Order: s.Order - 1})
		case cur > idx && s.Order >= idx && s.Order < cur:
			shifts = append(shifts, Mutation{NodeID: s.ID, ParentID: s.ParentID, Order: s.Order + 1})
		}
	}
	return Plan{
		Case:   MoveReorder,
		Index:  idx,
		Shifts: shifts,
		Moved:  &Mutation{NodeID: node.ID, ParentID: node.ParentID, Order: idx},
	}
}

func planReparent(node domain.WbsNode, target MoveTarget, source, dest []domain.WbsNode) Plan {
	dest = without(dest, node.ID)
	idx := NormalizeInsertIndex(len(dest), target.Index)
	var shifts []Mutation
	for _, s := range without(source, node.ID) {
		if s.Order > node.Order {
			shifts = append(shifts, Mutation{NodeID: s.ID, ParentID: s.ParentID, Order: s.Order - 1})
		}
	}
	for _, s := range dest {
		if s.Order >= idx {
			shifts = append(shifts, Mutation{NodeID: s.ID, ParentID: s.ParentID, Order: s.Order + 1})
		}
	}
	c := MoveReparent
	if len(dest) == 0 {
		c = MoveIntoEmpty
	}
	return Plan{
		Case:   c,
		Index:  idx,
		Shifts: shifts,
		Moved:  &Mutation{NodeID: node.ID, ParentID: cloneID(target.ParentID), Order: idx},
	}
}

// CheckNoCycle walks the ancestor chain of targetParentID using parents
// (node id -> parent id). Reaching nodeID means the move would put the node
// under itself. A chain that loops without reaching nodeID stops the walk.
func CheckNoCycle(parents map[string]*string, nodeID string, targetParentID *string) error {
	if targetParentID == nil {
		return nil
	}
	seen := map[string]bool{}
	cur := *targetParentID
	for cur != "" && !seen[cur] {
		if cur == nodeID {
			return domain.CyclicMoveError{NodeID: nodeID, TargetParentID: *targetParentID}
		}
		seen[cur] = true
		cur = domain.ParentKey(parents[cur])
	}
	return nil
}

// Apply returns a copy of nodes with the mutations written into it.
func Apply(nodes []domain.WbsNode, muts []Mutation) []domain.WbsNode {
	out := append([]domain.WbsNode(nil), nodes...)
	index := make(map[string]int, len(out))
	for i, n := range out {
		index[n.ID] = i
	}
	for _, m := range muts {
		i, ok := index[m.NodeID]
		if !ok {
			continue
		}
		out[i].ParentID = cloneID(m.ParentID)
		out[i].Order = m.Order
	}
	return out
}

func without(nodes []domain.WbsNode, id string) []domain.WbsNode {
	out := make([]domain.WbsNode, 0, len(nodes))
	for _, n := range nodes {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
