// Package wbs holds the storage-free rules of the work breakdown structure:
// dense sibling ordering, move planning, tree assembly and cascade sets.
package wbs

import (
	"fmt"
	"sort"

	"ganttline/internal/domain"
)

// Mutation is one row write: the node ends up under ParentID at Order.
type Mutation struct {
	NodeID   string  `json:"node_id"`
	ParentID *string `json:"parent_id,omitempty"`
	Order    int     `json:"order"`
}

// SortSiblings orders a sibling group by Order, breaking ties by ID so that a
// corrupted group still renders deterministically.
func SortSiblings(nodes []domain.WbsNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Order != nodes[j].Order {
			return nodes[i].Order < nodes[j].Order
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// NormalizeInsertIndex clamps requested into [0, siblingCount]; the upper
// bound is inclusive so a node can be appended.
func NormalizeInsertIndex(siblingCount, requested int) int {
	if siblingCount < 0 {
		siblingCount = 0
	}
	if requested < 0 {
		return 0
	}
	if requested > siblingCount {
		return siblingCount
	}
	return requested
}

// NextOrder is the append position for a new child of the group: the
// sibling count, or one past the highest order when a delete left a gap.
func NextOrder(siblings []domain.WbsNode) int {
	next := len(siblings)
	for _, s := range siblings {
		if s.Order >= next {
			next = s.Order + 1
		}
	}
	return next
}

// CheckDense verifies that orders, in any sequence, are exactly 0..n-1.
func CheckDense(orders []int) error {
	sorted := append([]int(nil), orders...)
	sort.Ints(sorted)
	for i, o := range sorted {
		if o == i {
			continue
		}
		if i > 0 && o == sorted[i-1] {
			return fmt.Errorf("duplicate order %d", o)
		}
		return fmt.Errorf("expected order %d, found %d", i, o)
	}
	return nil
}

// Densify returns the writes that renumber a sibling group to 0..n-1 while
// keeping its current relative order. Rows already in place are skipped.
func Densify(siblings []domain.WbsNode) []Mutation {
	group := append([]domain.WbsNode(nil), siblings...)
	SortSiblings(group)
	var out []Mutation
	for i, n := range group {
		if n.Order == i {
			continue
		}
		out = append(out, Mutation{NodeID: n.ID, ParentID: n.ParentID, Order: i})
	}
	return out
}

// GroupByParent splits a project's nodes into sibling groups keyed by parent
// id ("" for root level). Each group is sorted.
func GroupByParent(nodes []domain.WbsNode) map[string][]domain.WbsNode {
	groups := make(map[string][]domain.WbsNode)
	for _, n := range nodes {
		key := domain.ParentKey(n.ParentID)
		groups[key] = append(groups[key], n)
	}
	for key := range groups {
		SortSiblings(groups[key])
	}
	return groups
}

func orders(nodes []domain.WbsNode) []int {
	out := make([]int, len(nodes))
	for i, n := range nodes {
		out[i] = n.Order
	}
	return out
}
