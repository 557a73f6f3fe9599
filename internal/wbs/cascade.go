package wbs

import (
	"fmt"
	"sort"

	"ganttline/internal/domain"
)

// Descendants returns every transitive descendant of rootID, leaves first,
// so deleting in the returned order never leaves a dangling child. rootID
// itself is not included.
func Descendants(nodes []domain.WbsNode, rootID string) []string {
	children := make(map[string][]string)
	for _, n := range nodes {
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n.ID)
		}
	}
	var out []string
	seen := map[string]bool{rootID: true}
	var visit func(id string)
	visit = func(id string) {
		for _, c := range children[id] {
			if seen[c] {
				continue
			}
			seen[c] = true
			visit(c)
			out = append(out, c)
		}
	}
	visit(rootID)
	return out
}

const (
	ViolationOrder = "order"
	ViolationCycle = "cycle"
)

// Violation is one breach of the tree invariants found by Check.
type Violation struct {
	Kind     string `json:"kind" enum:"order,cycle"`
	ParentID string `json:"parent_id,omitempty"`
	NodeID   string `json:"node_id,omitempty"`
	Detail   string `json:"detail"`
}

// Check reports every sibling group whose orders are not 0..n-1 and every
// node that sits on a parent cycle.
func Check(nodes []domain.WbsNode) []Violation {
	var out []Violation
	groups := GroupByParent(nodes)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := CheckDense(orders(groups[k])); err != nil {
			out = append(out, Violation{Kind: ViolationOrder, ParentID: k, Detail: err.Error()})
		}
	}

	parents := make(map[string]*string, len(nodes))
	for _, n := range nodes {
		parents[n.ID] = n.ParentID
	}
	for _, n := range nodes {
		if onCycle(parents, n.ID) {
			out = append(out, Violation{
				Kind:     ViolationCycle,
				ParentID: domain.ParentKey(n.ParentID),
				NodeID:   n.ID,
				Detail:   fmt.Sprintf("node %s is its own ancestor", n.ID),
			})
		}
	}
	return out
}

func onCycle(parents map[string]*string, id string) bool {
	seen := map[string]bool{}
	cur := domain.ParentKey(parents[id])
	for cur != "" && !seen[cur] {
		if cur == id {
			return true
		}
		seen[cur] = true
		cur = domain.ParentKey(parents[cur])
	}
	return false
}
