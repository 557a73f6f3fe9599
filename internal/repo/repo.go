package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ganttline/internal/db"
	"ganttline/internal/domain"
)

// Repo holds the SQL for every table. Methods that take a db.DBTX run on
// that handle (normally the caller's transaction); a nil handle falls back
// to DB.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

func (r Repo) q(q db.DBTX) db.DBTX {
	if q != nil {
		return q
	}
	return r.DB
}

const projectColumns = `id,name,COALESCE(description,'') AS description,created_at,updated_at`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, q db.DBTX, p domain.Project) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO projects(id,name,description,created_at,updated_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, q db.DBTX, id string) (domain.Project, error) {
	return scanProject(r.q(q).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProject writes the non-nil fields.
func (r Repo) UpdateProject(ctx context.Context, q db.DBTX, id string, name, description *string, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.q(q).ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, q db.DBTX, id string) error {
	res, err := r.q(q).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
