package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ganttline/internal/config"
	"ganttline/internal/db"
	"ganttline/internal/engine"
	"ganttline/internal/migrate"
)

const (
	testSecret  = "test-secret"
	testProject = "bridge"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	workspace := t.TempDir()
	conn, err := db.Open(ctx, db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(ctx, conn))

	e := engine.New(conn, config.Default(), nil)
	_, err = e.CreateProject(ctx, engine.CreateProjectOptions{ID: testProject, Name: "Bridge", ActorID: "tester"})
	require.NoError(t, err)

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

var asTester = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func addNode(t *testing.T, srv *testServer, id string, parent *string) NodeResponse {
	t.Helper()
	body := map[string]any{"id": id, "name": id}
	if parent != nil {
		body["parent_id"] = *parent
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProject+"/wbs-nodes", body, asTester)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var n NodeResponse
	require.NoError(t, json.Unmarshal(data, &n))
	return n
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestMoveOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		addNode(t, srv, id, nil)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/wbs-nodes/move", map[string]any{
		"node_id":          "c",
		"target_parent_id": nil,
		"target_index":     0,
	}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var moved MoveResponse
	require.NoError(t, json.Unmarshal(data, &moved))
	assert.Equal(t, "reorder", moved.Case)
	assert.Equal(t, 0, moved.Node.Order)
	assert.Equal(t, 2, moved.Shifted)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+testProject+"/wbs?flat=true", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tree TreeResponse
	require.NoError(t, json.Unmarshal(data, &tree))
	require.Len(t, tree.Flat, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{tree.Flat[0].ID, tree.Flat[1].ID, tree.Flat[2].ID})

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+testProject+"/wbs?include_root=true", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	tree = TreeResponse{}
	require.NoError(t, json.Unmarshal(data, &tree))
	require.Len(t, tree.Roots, 1)
	assert.True(t, tree.Roots[0].IsProjectRoot)
	assert.Len(t, tree.Roots[0].Children, 3)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+testProject+"/wbs/check", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var check CheckResponse
	require.NoError(t, json.Unmarshal(data, &check))
	assert.True(t, check.Valid)
}

func TestMoveErrorsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	a := addNode(t, srv, "a", nil)
	addNode(t, srv, "b", &a.ID)

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/wbs-nodes/move", map[string]any{
		"node_id":          "a",
		"target_parent_id": "b",
		"target_index":     0,
	}, asTester)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "cyclic_move", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/wbs-nodes/move", map[string]any{
		"node_id":      "ghost",
		"target_index": 0,
	}, asTester)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/wbs-nodes/move", map[string]any{
		"node_id":          "a",
		"target_parent_id": "a",
		"target_index":     0,
	}, asTester)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "cyclic_move", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/wbs-nodes/move", map[string]any{
		"node_id":      "",
		"target_index": 0,
	}, asTester)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", decodeError(t, data).Code)

	// schema failures are reported as 400, not 422
	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/wbs-nodes/move", map[string]any{
		"node_id":      "a",
		"target_index": "first",
	}, asTester)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestProjectEndpoints(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"id": "p2", "name": "Tunnel"}, asTester)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/projects/p2", map[string]any{"name": "Tunnel 2"}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var p ProjectResponse
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, "Tunnel 2", p.Name)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list []ProjectResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 2)

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/projects/p2", nil, asTester)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/p2", nil, asTester)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": ""}, asTester)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestNodeEditDeleteAndEvents(t *testing.T) {
	srv := newTestServer(t)
	a := addNode(t, srv, "a", nil)
	addNode(t, srv, "a1", &a.ID)
	addNode(t, srv, "b", nil)

	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/wbs-nodes/b", map[string]any{"name": "Design"}, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/v0/wbs-nodes/a", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var del DeleteNodeResponse
	require.NoError(t, json.Unmarshal(data, &del))
	assert.Equal(t, 2, del.Deleted)
	assert.Equal(t, []string{"a1"}, del.DescendantIDs)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/"+testProject+"/events?type=node.deleted", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts EventsResponse
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, "a", evts.Items[0].EntityID)
	assert.Equal(t, "tester", evts.Items[0].ActorID)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProject+"/wbs/repair", nil, asTester)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rep RepairResponse
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, 1, rep.Rewritten, "b closes the gap left by a")
}

func TestAuth(t *testing.T) {
	srv := newTestServer(t)
	url := srv.URL + "/v0/projects/" + testProject + "/wbs"

	res, data := doJSON(t, srv.Client(), http.MethodGet, url, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	readOnly, err := SignToken(testSecret, "viewer", []string{PermWbsRead}, time.Hour)
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + readOnly}
	res, data = doJSON(t, srv.Client(), http.MethodGet, url, nil, bearer)
	assert.Equal(t, http.StatusOK, res.StatusCode, string(data))
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProject+"/wbs-nodes", map[string]any{"name": "x"}, bearer)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "forbidden", decodeError(t, data).Code)

	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), "robot", "ci")
	require.NoError(t, err)
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+testProject+"/wbs-nodes", map[string]any{"name": "x"}, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "dev"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))
	res, _ = doJSON(t, srv.Client(), http.MethodGet, url, nil, map[string]string{"Authorization": "Bearer " + login.Token})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
