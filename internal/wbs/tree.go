package wbs

import (
	"sort"

	"ganttline/internal/domain"
)

// FlatNode is one entry of a flattened tree, in pre-order.
type FlatNode struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id,omitempty"`
	Name     string  `json:"name"`
	Order    int     `json:"order"`
	Depth    int     `json:"depth"`
}

// Assemble nests a project's flat node list. Children are sorted by Order.
// A node whose parent is absent becomes a root, and so does the first node
// of any parent cycle, so every input node appears exactly once.
func Assemble(nodes []domain.WbsNode) []*domain.TreeNode {
	lookup := make(map[string]*domain.TreeNode, len(nodes))
	unique := make([]domain.WbsNode, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := lookup[n.ID]; dup {
			continue
		}
		lookup[n.ID] = &domain.TreeNode{
			ID:       n.ID,
			ParentID: cloneID(n.ParentID),
			Name:     n.Name,
			Order:    n.Order,
			Children: []*domain.TreeNode{},
		}
		unique = append(unique, n)
	}

	roots := []*domain.TreeNode{}
	for _, n := range unique {
		t := lookup[n.ID]
		if n.ParentID != nil {
			if p, ok := lookup[*n.ParentID]; ok && p != t {
				p.Children = append(p.Children, t)
				continue
			}
		}
		roots = append(roots, t)
	}

	reached := make(map[string]bool, len(unique))
	for _, r := range roots {
		markReached(r, reached)
	}
	for _, n := range unique {
		if reached[n.ID] {
			continue
		}
		t := lookup[n.ID]
		if p, ok := lookup[domain.ParentKey(n.ParentID)]; ok {
			p.Children = removeChild(p.Children, t)
		}
		roots = append(roots, t)
		markReached(t, reached)
	}

	sortTree(roots)
	return roots
}

// WithProjectRoot wraps the top-level nodes in the synthetic project node.
func WithProjectRoot(p domain.Project, roots []*domain.TreeNode) *domain.TreeNode {
	if roots == nil {
		roots = []*domain.TreeNode{}
	}
	return &domain.TreeNode{
		ID:            p.ID,
		Name:          p.Name,
		IsProjectRoot: true,
		Children:      roots,
	}
}

// Flatten walks the trees in display order.
func Flatten(roots []*domain.TreeNode) []FlatNode {
	var out []FlatNode
	var walk func(ts []*domain.TreeNode, depth int)
	walk = func(ts []*domain.TreeNode, depth int) {
		for _, t := range ts {
			out = append(out, FlatNode{
				ID:       t.ID,
				ParentID: t.ParentID,
				Name:     t.Name,
				Order:    t.Order,
				Depth:    depth,
			})
			walk(t.Children, depth+1)
		}
	}
	walk(roots, 0)
	return out
}

func markReached(t *domain.TreeNode, reached map[string]bool) {
	if reached[t.ID] {
		return
	}
	reached[t.ID] = true
	for _, c := range t.Children {
		markReached(c, reached)
	}
}

func removeChild(children []*domain.TreeNode, t *domain.TreeNode) []*domain.TreeNode {
	out := children[:0]
	for _, c := range children {
		if c != t {
			out = append(out, c)
		}
	}
	return out
}

func sortTree(ts []*domain.TreeNode) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Order != ts[j].Order {
			return ts[i].Order < ts[j].Order
		}
		return ts[i].ID < ts[j].ID
	})
	for _, t := range ts {
		sortTree(t.Children)
	}
}
