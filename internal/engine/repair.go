package engine

import (
	"context"
	"sort"

	"ganttline/internal/db"
	"ganttline/internal/events"
	"ganttline/internal/wbs"
)

// CheckTree reports ordering gaps and parent cycles without changing data.
func (e Engine) CheckTree(ctx context.Context, projectID string) ([]wbs.Violation, error) {
	nodes, err := e.ListNodes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	vs := wbs.Check(nodes)
	if vs == nil {
		vs = []wbs.Violation{}
	}
	return vs, nil
}

// RepairTree renumbers every sibling group of the project to 0..n-1 and
// returns how many rows it rewrote. Cycles are reported by CheckTree only.
func (e Engine) RepairTree(ctx context.Context, projectID, actorID string) (int, error) {
	if _, err := e.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	rewritten := 0
	err := e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		nodes, err := e.Repo.ListProjectNodes(ctx, tx, projectID)
		if err != nil {
			return err
		}
		groups := wbs.GroupByParent(nodes)
		keys := make([]string, 0, len(groups))
		for k := range groups {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		now := e.stamp()
		var touched []string
		for _, k := range keys {
			muts := wbs.Densify(groups[k])
			if len(muts) == 0 {
				continue
			}
			if err := e.Repo.ApplyMutations(ctx, tx, muts, now); err != nil {
				return err
			}
			rewritten += len(muts)
			touched = append(touched, k)
		}
		if rewritten == 0 {
			return nil
		}
		return e.appendEvent(ctx, tx, events.TreeRepaired, projectID, "project", projectID, actorID, events.EventPayload{
			"rewritten":  rewritten,
			"parent_ids": touched,
		})
	})
	if err != nil {
		e.log().Warn("repair tree failed", "project_id", projectID, "err", err)
		return 0, err
	}
	if rewritten > 0 {
		e.log().Info("tree repaired", "project_id", projectID, "rewritten", rewritten)
	}
	return rewritten, nil
}
