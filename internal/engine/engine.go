package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ganttline/internal/config"
	"ganttline/internal/db"
	"ganttline/internal/domain"
	"ganttline/internal/events"
	"ganttline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Tx     db.UnitOfWork
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(conn *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     conn,
		Tx:     db.NewUnitOfWork(conn),
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) withinTx(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error {
	uow := e.Tx
	if uow == nil {
		uow = db.NewUnitOfWork(e.DB)
	}
	return uow.WithinTx(ctx, fn)
}

func (e Engine) appendEvent(ctx context.Context, tx db.DBTX, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	if actorID == "" {
		actorID = "system"
	}
	return w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
}

// notFound turns a bare repo.ErrNotFound into a NotFoundError naming what
// was looked up.
func notFound(err error, kind, id string) error {
	var nf domain.NotFoundError
	if errors.Is(err, repo.ErrNotFound) && !errors.As(err, &nf) {
		return domain.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

func requireName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Required(field)
	}
	return name, nil
}

// resolveParent maps a requested parent id to the stored one: empty and the
// project's own id both mean root level (nil). Any other id must be a node
// of the same project.
func (e Engine) resolveParent(ctx context.Context, q db.DBTX, projectID string, parentID *string) (*string, error) {
	if parentID == nil {
		return nil, nil
	}
	id := strings.TrimSpace(*parentID)
	if id == "" || id == projectID {
		return nil, nil
	}
	parent, err := e.Repo.GetNode(ctx, q, id)
	if err != nil {
		return nil, notFound(err, "parent node", id)
	}
	if parent.ProjectID != projectID {
		return nil, domain.ValidationError{Field: "parent_id", Reason: "belongs to another project"}
	}
	return &id, nil
}
