package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"ganttline/internal/engine"
	"ganttline/internal/wbs"
)

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.CreateProject(ctx, engine.CreateProjectOptions{
			ID:          input.Body.ID,
			Name:        input.Body.Name,
			Description: desc,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, PermWbsRead); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, PermWbsRead); authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, engine.UpdateProjectOptions{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project and its whole breakdown",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actorID, authErr := requirePermission(ctx, PermProjectWrite)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTree(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-wbs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/wbs",
		Summary:     "Assembled work breakdown tree",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		IncludeRoot bool   `query:"include_root" doc:"Wrap the tree in a synthetic project root node"`
		Flat        bool   `query:"flat" doc:"Return a pre-order list with depths instead of nested nodes"`
	}) (*struct {
		Body TreeResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, PermWbsRead); authErr != nil {
			return nil, authErr
		}
		roots, err := e.ListTree(ctx, input.ProjectID, engine.TreeOptions{IncludeProjectRoot: input.IncludeRoot})
		if err != nil {
			return nil, handleError(err)
		}
		resp := TreeResponse{ProjectID: input.ProjectID}
		if input.Flat {
			resp.Flat = wbs.Flatten(roots)
		} else {
			resp.Roots = roots
		}
		return &struct {
			Body TreeResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-wbs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/wbs/check",
		Summary:     "Report ordering gaps and parent cycles",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body CheckResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, PermWbsRead); authErr != nil {
			return nil, authErr
		}
		vs, err := e.CheckTree(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckResponse `json:"body"`
		}{Body: CheckResponse{ProjectID: input.ProjectID, Valid: len(vs) == 0, Violations: vs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repair-wbs",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/wbs/repair",
		Summary:     "Renumber every sibling group to 0..n-1",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body RepairResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermWbsWrite)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.RepairTree(ctx, input.ProjectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RepairResponse `json:"body"`
		}{Body: RepairResponse{ProjectID: input.ProjectID, Rewritten: n}}, nil
	})
}

func registerNodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-wbs-node",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/wbs-nodes",
		Summary:       "Append a node under a parent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      AddNodeRequest `json:"body"`
	}) (*struct {
		Body NodeResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermWbsWrite)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AddNode(ctx, engine.AddNodeOptions{
			ID:        input.Body.ID,
			ProjectID: input.ProjectID,
			ParentID:  input.Body.ParentID,
			Name:      input.Body.Name,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NodeResponse `json:"body"`
		}{Body: nodeResponse(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-wbs-node",
		Method:      http.MethodPatch,
		Path:        "/wbs-nodes/{id}",
		Summary:     "Rename a node",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body EditNodeRequest `json:"body"`
	}) (*struct {
		Body NodeResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermWbsWrite)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.EditNode(ctx, input.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NodeResponse `json:"body"`
		}{Body: nodeResponse(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-wbs-node",
		Method:      http.MethodPut,
		Path:        "/wbs-nodes/move",
		Summary:     "Move a node to a parent and position",
		Description: "Reorders within the current parent or reparents. Both sibling groups stay dense. A move to the current position changes nothing.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body MoveNodeRequest `json:"body"`
	}) (*struct {
		Body MoveResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermWbsWrite)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.NodeID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "node_id is required", nil)
		}
		res, err := e.MoveNode(ctx, engine.MoveOptions{
			NodeID:         input.Body.NodeID,
			TargetParentID: input.Body.TargetParentID,
			TargetIndex:    input.Body.TargetIndex,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MoveResponse `json:"body"`
		}{Body: moveResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-wbs-node",
		Method:      http.MethodDelete,
		Path:        "/wbs-nodes/{id}",
		Summary:     "Delete a node and its subtree",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeleteNodeResponse `json:"body"`
	}, error) {
		actorID, authErr := requirePermission(ctx, PermWbsWrite)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.DeleteNode(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeleteNodeResponse `json:"body"`
		}{Body: DeleteNodeResponse{
			NodeID:        res.NodeID,
			Deleted:       res.Deleted,
			DescendantIDs: res.DescendantIDs,
			Compacted:     res.Compacted,
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePermission(ctx, PermWbsRead); authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventsResponse{Items: make([]EventResponse, 0, len(items))}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

const devTokenTTL = 12 * time.Hour

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.AllowActorHeader || strings.TrimSpace(authCfg.JWTSecret) == "" {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev login disabled", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		perms := input.Body.Permissions
		if len(perms) == 0 {
			perms = AllPermissions
		}
		token, err := SignToken(authCfg.JWTSecret, actor, perms, devTokenTTL)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
