package repo

import (
	"context"
	"database/sql"

	"ganttline/internal/db"
	"ganttline/internal/domain"
	"ganttline/internal/wbs"
)

const nodeColumns = `id,project_id,parent_id,name,order_index,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (domain.WbsNode, error) {
	var n domain.WbsNode
	var parent sql.NullString
	if err := row.Scan(&n.ID, &n.ProjectID, &parent, &n.Name, &n.Order, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return n, err
	}
	if parent.Valid {
		v := parent.String
		n.ParentID = &v
	}
	return n, nil
}

func queryNodes(ctx context.Context, q db.DBTX, query string, args ...any) ([]domain.WbsNode, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WbsNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) GetNode(ctx context.Context, q db.DBTX, id string) (domain.WbsNode, error) {
	n, err := scanNode(r.q(q).QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM wbs_nodes WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

// ListProjectNodes returns every node of the project in one query.
func (r Repo) ListProjectNodes(ctx context.Context, q db.DBTX, projectID string) ([]domain.WbsNode, error) {
	return queryNodes(ctx, r.q(q),
		`SELECT `+nodeColumns+` FROM wbs_nodes WHERE project_id=? ORDER BY parent_id, order_index, id`, projectID)
}

// ListSiblings returns the children of parentID (root level when nil) in
// display order.
func (r Repo) ListSiblings(ctx context.Context, q db.DBTX, projectID string, parentID *string) ([]domain.WbsNode, error) {
	if parentID == nil {
		return queryNodes(ctx, r.q(q),
			`SELECT `+nodeColumns+` FROM wbs_nodes WHERE project_id=? AND parent_id IS NULL ORDER BY order_index, id`, projectID)
	}
	return queryNodes(ctx, r.q(q),
		`SELECT `+nodeColumns+` FROM wbs_nodes WHERE project_id=? AND parent_id=? ORDER BY order_index, id`, projectID, *parentID)
}

func (r Repo) InsertNode(ctx context.Context, q db.DBTX, n domain.WbsNode) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO wbs_nodes(`+nodeColumns+`) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.ProjectID, nullableStringPtr(n.ParentID), n.Name, n.Order, n.CreatedAt, n.UpdatedAt)
	return err
}

// ApplyMutation writes one planned parent/order change.
func (r Repo) ApplyMutation(ctx context.Context, q db.DBTX, m wbs.Mutation, updatedAt string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE wbs_nodes SET parent_id=?, order_index=?, updated_at=? WHERE id=?`,
		nullableStringPtr(m.ParentID), m.Order, updatedAt, m.NodeID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NotFoundError{Kind: "wbs node", ID: m.NodeID}
	}
	return nil
}

// ApplyMutations writes muts in order and stops at the first failure.
func (r Repo) ApplyMutations(ctx context.Context, q db.DBTX, muts []wbs.Mutation, updatedAt string) error {
	for _, m := range muts {
		if err := r.ApplyMutation(ctx, q, m, updatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) RenameNode(ctx context.Context, q db.DBTX, id, name, updatedAt string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE wbs_nodes SET name=?, updated_at=? WHERE id=?`, name, updatedAt, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.NotFoundError{Kind: "wbs node", ID: id}
	}
	return nil
}

// DeleteNodes removes ids in the given order and returns how many rows went.
// Callers pass descendants leaves first.
func (r Repo) DeleteNodes(ctx context.Context, q db.DBTX, ids []string) (int, error) {
	total := 0
	for _, id := range ids {
		res, err := r.q(q).ExecContext(ctx, `DELETE FROM wbs_nodes WHERE id=?`, id)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}
