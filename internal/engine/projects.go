package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"ganttline/internal/db"
	"ganttline/internal/domain"
	"ganttline/internal/events"
)

type CreateProjectOptions struct {
	ID          string
	Name        string
	Description string
	ActorID     string
}

func (e Engine) CreateProject(ctx context.Context, opts CreateProjectOptions) (domain.Project, error) {
	name, err := requireName("name", opts.Name)
	if err != nil {
		return domain.Project{}, err
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	p := domain.Project{
		ID:          id,
		Name:        name,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name})
	})
	if err != nil {
		e.log().Warn("create project failed", "project_id", id, "err", err)
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, nil, id)
	return p, notFound(err, "project", id)
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

// UpdateProjectOptions changes the non-nil fields.
type UpdateProjectOptions struct {
	Name        *string
	Description *string
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, id string, opts UpdateProjectOptions) (domain.Project, error) {
	if opts.Name != nil {
		name, err := requireName("name", *opts.Name)
		if err != nil {
			return domain.Project{}, err
		}
		opts.Name = &name
	}
	var out domain.Project
	err := e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		if _, err := e.Repo.GetProject(ctx, tx, id); err != nil {
			return notFound(err, "project", id)
		}
		if err := e.Repo.UpdateProject(ctx, tx, id, opts.Name, opts.Description, e.stamp()); err != nil {
			return notFound(err, "project", id)
		}
		p, err := e.Repo.GetProject(ctx, tx, id)
		if err != nil {
			return err
		}
		out = p
		payload := events.EventPayload{}
		if opts.Name != nil {
			payload["name"] = *opts.Name
		}
		if opts.Description != nil {
			payload["description"] = *opts.Description
		}
		return e.appendEvent(ctx, tx, events.ProjectUpdated, id, "project", id, opts.ActorID, payload)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return out, nil
}

// DeleteProject removes the project; its nodes go with it through the
// foreign key cascade.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	err := e.withinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		nodes, err := e.Repo.ListProjectNodes(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
			return notFound(err, "project", id)
		}
		return e.appendEvent(ctx, tx, events.ProjectDeleted, id, "project", id, actorID, events.EventPayload{"nodes_deleted": len(nodes)})
	})
	if err != nil {
		e.log().Warn("delete project failed", "project_id", id, "err", err)
	}
	return err
}
