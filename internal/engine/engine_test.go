package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ganttline/internal/config"
	"ganttline/internal/db"
	"ganttline/internal/domain"
	"ganttline/internal/engine"
	"ganttline/internal/events"
	"ganttline/internal/migrate"
	"ganttline/internal/wbs"
)

const projectID = "proj-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	cfg := config.Default()
	for _, fn := range tweak {
		fn(cfg)
	}
	eng := engine.New(conn, cfg, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	env := testEnv{Engine: eng, Ctx: ctx, clock: &clock}
	env.Engine.Now = func() time.Time { return *env.clock }

	_, err = env.Engine.CreateProject(ctx, engine.CreateProjectOptions{ID: projectID, Name: "Bridge", ActorID: "tester"})
	require.NoError(t, err)
	return env
}

func (env testEnv) tick() { *env.clock = env.clock.Add(time.Minute) }

func (env testEnv) add(t *testing.T, id string, parent *string) domain.WbsNode {
	t.Helper()
	n, err := env.Engine.AddNode(env.Ctx, engine.AddNodeOptions{ID: id, ProjectID: projectID, ParentID: parent, Name: id, ActorID: "tester"})
	require.NoError(t, err)
	return n
}

func (env testEnv) move(t *testing.T, id string, parent *string, index int) engine.MoveResult {
	t.Helper()
	res, err := env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: id, TargetParentID: parent, TargetIndex: index, ActorID: "tester"})
	require.NoError(t, err)
	return res
}

// children returns the names under parent in display order, with their orders.
func (env testEnv) children(t *testing.T, parent *string) ([]string, []int) {
	t.Helper()
	nodes, err := env.Engine.Repo.ListSiblings(env.Ctx, nil, projectID, parent)
	require.NoError(t, err)
	var names []string
	var orders []int
	for _, n := range nodes {
		names = append(names, n.Name)
		orders = append(orders, n.Order)
	}
	return names, orders
}

func (env testEnv) nodes(t *testing.T) map[string]domain.WbsNode {
	t.Helper()
	all, err := env.Engine.ListNodes(env.Ctx, projectID)
	require.NoError(t, err)
	out := make(map[string]domain.WbsNode, len(all))
	for _, n := range all {
		out[n.ID] = n
	}
	return out
}

func ptr(s string) *string { return &s }

func TestMoveWithinParent(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	for _, id := range []string{"X", "Y", "Z"} {
		env.add(t, id, ptr("A"))
	}

	res := env.move(t, "Y", ptr("A"), 0)
	assert.Equal(t, wbs.MoveReorder, res.Case)
	assert.Equal(t, 0, res.Node.Order)

	names, orders := env.children(t, ptr("A"))
	assert.Equal(t, []string{"Y", "X", "Z"}, names)
	assert.Equal(t, []int{0, 1, 2}, orders)
}

func TestMoveAcrossParents(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	env.add(t, "B", nil)
	for _, id := range []string{"X", "Y", "Z"} {
		env.add(t, id, ptr("A"))
	}
	env.add(t, "P", ptr("B"))
	env.add(t, "Q", ptr("B"))

	res := env.move(t, "X", ptr("B"), 1)
	assert.Equal(t, wbs.MoveReparent, res.Case)
	assert.Equal(t, "B", domain.ParentKey(res.Node.ParentID))

	names, orders := env.children(t, ptr("A"))
	assert.Equal(t, []string{"Y", "Z"}, names)
	assert.Equal(t, []int{0, 1}, orders)
	names, orders = env.children(t, ptr("B"))
	assert.Equal(t, []string{"P", "X", "Q"}, names)
	assert.Equal(t, []int{0, 1, 2}, orders)
}

func TestMoveToCurrentPositionIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	env.add(t, "X", ptr("A"))
	env.add(t, "Y", ptr("A"))
	before := env.nodes(t)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, projectID, "")
	require.NoError(t, err)

	env.tick()
	res := env.move(t, "Y", ptr("A"), 1)
	assert.True(t, res.NoOp())
	assert.Equal(t, before, env.nodes(t), "no row changes, updated_at included")

	after, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, projectID, "")
	require.NoError(t, err)
	assert.Len(t, after, len(evts), "no-op move appends no event")
}

func TestAddAppendsAtEnd(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	for _, id := range []string{"c0", "c1", "c2"} {
		env.add(t, id, ptr("A"))
	}
	n := env.add(t, "c3", ptr("A"))
	assert.Equal(t, 3, n.Order)

	root := env.add(t, "B", ptr(projectID))
	assert.Nil(t, root.ParentID, "the project id addresses root level")
	assert.Equal(t, 1, root.Order)
}

func TestDeleteCascadesAndKeepsSiblingOrders(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "R", nil)
	env.add(t, "before", ptr("R"))
	env.add(t, "N", ptr("R"))
	env.add(t, "after", ptr("R"))
	env.add(t, "c1", ptr("N"))
	env.add(t, "c2", ptr("N"))
	env.add(t, "g1", ptr("c1"))

	res, err := env.Engine.DeleteNode(env.Ctx, "N", "tester")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Deleted)
	assert.ElementsMatch(t, []string{"c1", "c2", "g1"}, res.DescendantIDs)

	left := env.nodes(t)
	for _, id := range []string{"N", "c1", "c2", "g1"} {
		assert.NotContains(t, left, id)
	}
	names, orders := env.children(t, ptr("R"))
	assert.Equal(t, []string{"before", "after"}, names)
	assert.Equal(t, []int{0, 2}, orders, "gap left behind")

	_, err = env.Engine.DeleteNode(env.Ctx, "N", "tester")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteCompactsWhenConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Tree.CompactOnDelete = true })
	for _, id := range []string{"a", "b", "c", "d"} {
		env.add(t, id, nil)
	}
	res, err := env.Engine.DeleteNode(env.Ctx, "b", "tester")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Compacted)

	names, orders := env.children(t, nil)
	assert.Equal(t, []string{"a", "c", "d"}, names)
	assert.Equal(t, []int{0, 1, 2}, orders)
}

func TestAddAndMoveAfterGap(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		env.add(t, id, nil)
	}
	_, err := env.Engine.DeleteNode(env.Ctx, "b", "tester")
	require.NoError(t, err)

	d := env.add(t, "d", nil)
	assert.Equal(t, 3, d.Order, "append never duplicates an order")

	res := env.move(t, "d", nil, 0)
	assert.Equal(t, 2, res.Healed)
	names, orders := env.children(t, nil)
	assert.Equal(t, []string{"d", "a", "c"}, names)
	assert.Equal(t, []int{0, 1, 2}, orders)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, projectID, "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, events.NodeMoved, evts[0].Type)
	var payload struct {
		Healed []wbs.Mutation `json:"healed"`
	}
	require.NoError(t, json.Unmarshal([]byte(evts[0].Payload), &payload))
	healed := map[string]int{}
	for _, m := range payload.Healed {
		healed[m.NodeID] = m.Order
	}
	assert.Equal(t, map[string]int{"c": 1, "d": 2}, healed, "renumbering is logged with the move")
}

func TestNoOpMoveInGappedGroupWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		env.add(t, id, nil)
	}
	_, err := env.Engine.DeleteNode(env.Ctx, "b", "tester")
	require.NoError(t, err)
	before := env.nodes(t)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, projectID, "")
	require.NoError(t, err)

	env.tick()
	for _, index := range []int{1, 2, 99} {
		res := env.move(t, "c", nil, index)
		assert.True(t, res.NoOp(), "index %d", index)
		assert.Equal(t, 1, res.Index)
		assert.Zero(t, res.Healed)
	}
	res := env.move(t, "a", nil, 0)
	assert.True(t, res.NoOp())

	assert.Equal(t, before, env.nodes(t), "gap kept, updated_at untouched")
	_, orders := env.children(t, nil)
	assert.Equal(t, []int{0, 2}, orders)
	after, err := env.Engine.Repo.LatestEvents(env.Ctx, 100, projectID, "")
	require.NoError(t, err)
	assert.Len(t, after, len(evts))
}

func TestListTree(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "1", nil)
	env.add(t, "2", ptr("1"))
	env.add(t, "3", ptr("1"))

	roots, err := env.Engine.ListTree(env.Ctx, projectID, engine.TreeOptions{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "1", roots[0].ID)
	require.Len(t, roots[0].Children, 2)
	assert.Equal(t, "2", roots[0].Children[0].ID)
	assert.Equal(t, "3", roots[0].Children[1].ID)

	wrapped, err := env.Engine.ListTree(env.Ctx, projectID, engine.TreeOptions{IncludeProjectRoot: true})
	require.NoError(t, err)
	require.Len(t, wrapped, 1)
	assert.True(t, wrapped[0].IsProjectRoot)
	assert.Equal(t, projectID, wrapped[0].ID)
	assert.Len(t, wrapped[0].Children, 1)

	_, err = env.Engine.ListTree(env.Ctx, "missing", engine.TreeOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMoveErrors(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	env.add(t, "B", ptr("A"))
	env.add(t, "C", ptr("B"))

	_, err := env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: "A", TargetParentID: ptr("A")})
	assert.ErrorIs(t, err, domain.ErrCyclicMove)
	_, err = env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: "A", TargetParentID: ptr("C")})
	assert.ErrorIs(t, err, domain.ErrCyclicMove)
	_, err = env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: "nope", TargetIndex: 0})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: "B", TargetParentID: ptr("ghost")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.MoveNode(env.Ctx, engine.MoveOptions{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	other, err := env.Engine.CreateProject(env.Ctx, engine.CreateProjectOptions{ID: "proj-2", Name: "Other"})
	require.NoError(t, err)
	_, err = env.Engine.AddNode(env.Ctx, engine.AddNodeOptions{ID: "O", ProjectID: other.ID, Name: "O"})
	require.NoError(t, err)
	_, err = env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: "B", TargetParentID: ptr("O")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.Empty(t, mustCheck(t, env))
}

func TestAddAndEditValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AddNode(env.Ctx, engine.AddNodeOptions{ProjectID: projectID, Name: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.AddNode(env.Ctx, engine.AddNodeOptions{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.AddNode(env.Ctx, engine.AddNodeOptions{ProjectID: "missing", Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.AddNode(env.Ctx, engine.AddNodeOptions{ProjectID: projectID, ParentID: ptr("ghost"), Name: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	n := env.add(t, "A", nil)
	env.tick()
	renamed, err := env.Engine.EditNode(env.Ctx, n.ID, "Foundations", "tester")
	require.NoError(t, err)
	assert.Equal(t, "Foundations", renamed.Name)
	assert.Equal(t, n.Order, renamed.Order)
	assert.NotEqual(t, n.UpdatedAt, renamed.UpdatedAt)

	_, err = env.Engine.EditNode(env.Ctx, n.ID, "", "tester")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.Engine.EditNode(env.Ctx, "ghost", "x", "tester")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	env.add(t, "B", ptr("A"))

	name := "Bridge 2"
	p, err := env.Engine.UpdateProject(env.Ctx, projectID, engine.UpdateProjectOptions{Name: &name, ActorID: "tester"})
	require.NoError(t, err)
	assert.Equal(t, name, p.Name)

	projects, err := env.Engine.ListProjects(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	require.NoError(t, env.Engine.DeleteProject(env.Ctx, projectID, "tester"))
	_, err = env.Engine.GetProject(env.Ctx, projectID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.Engine.GetNode(env.Ctx, "B")
	assert.ErrorIs(t, err, domain.ErrNotFound, "nodes cascade with the project")
	assert.ErrorIs(t, env.Engine.DeleteProject(env.Ctx, projectID, "tester"), domain.ErrNotFound)
}

func TestEventsFollowMutations(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	env.add(t, "B", nil)
	env.move(t, "B", nil, 0)
	_, err := env.Engine.EditNode(env.Ctx, "A", "A2", "tester")
	require.NoError(t, err)
	_, err = env.Engine.DeleteNode(env.Ctx, "A", "tester")
	require.NoError(t, err)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, projectID, "")
	require.NoError(t, err)
	var types []string
	for i := len(evts) - 1; i >= 0; i-- {
		types = append(types, evts[i].Type)
		assert.Equal(t, "tester", evts[i].ActorID)
	}
	assert.Equal(t, []string{
		events.ProjectCreated, events.NodeCreated, events.NodeCreated,
		events.NodeMoved, events.NodeRenamed, events.NodeDeleted,
	}, types)
}

func TestCheckAndRepair(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		env.add(t, id, nil)
	}
	_, err := env.Engine.DeleteNode(env.Ctx, "a", "tester")
	require.NoError(t, err)

	vs := mustCheck(t, env)
	require.Len(t, vs, 1)
	assert.Equal(t, wbs.ViolationOrder, vs[0].Kind)

	n, err := env.Engine.RepairTree(env.Ctx, projectID, "tester")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, mustCheck(t, env))

	n, err = env.Engine.RepairTree(env.Ctx, projectID, "tester")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "alice", "laptop")
	require.NoError(t, err)
	assert.NotEqual(t, secret, key.KeyHash)

	keys, err := env.Engine.Repo.ListAPIKeys(env.Ctx, "alice")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, " ", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func mustCheck(t *testing.T, env testEnv) []wbs.Violation {
	t.Helper()
	vs, err := env.Engine.CheckTree(env.Ctx, projectID)
	require.NoError(t, err)
	return vs
}

// TestRandomMovesKeepTreeValid drives real transactions with random moves,
// including rejected cyclic ones, and checks density and acyclicity after
// every step.
func TestRandomMovesKeepTreeValid(t *testing.T) {
	env := newTestEnv(t)
	rng := rand.New(rand.NewSource(7))
	var ids []string
	for i := 0; i < 14; i++ {
		id := string(rune('a' + i))
		var parent *string
		if len(ids) > 0 && rng.Intn(3) > 0 {
			parent = ptr(ids[rng.Intn(len(ids))])
		}
		env.add(t, id, parent)
		ids = append(ids, id)
	}

	for step := 0; step < 120; step++ {
		id := ids[rng.Intn(len(ids))]
		var target *string
		if rng.Intn(4) > 0 {
			target = ptr(ids[rng.Intn(len(ids))])
		}
		before := env.nodes(t)
		_, err := env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: id, TargetParentID: target, TargetIndex: rng.Intn(6) - 1})
		if err != nil {
			require.ErrorIs(t, err, domain.ErrCyclicMove, "step %d", step)
			assert.Equal(t, before, env.nodes(t), "rejected move changed rows at step %d", step)
		}
		require.Empty(t, mustCheck(t, env), "step %d", step)
	}
}

func TestMoveRoundTripRestoresOrders(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "A", nil)
	env.add(t, "B", nil)
	for _, id := range []string{"a0", "a1", "a2", "a3"} {
		env.add(t, id, ptr("A"))
	}
	for _, id := range []string{"b0", "b1"} {
		env.add(t, id, ptr("B"))
	}
	_, aOrders := env.children(t, ptr("A"))
	_, bOrders := env.children(t, ptr("B"))

	env.move(t, "a1", ptr("B"), 1)
	env.move(t, "a1", ptr("A"), 1)

	names, orders := env.children(t, ptr("A"))
	assert.Equal(t, []string{"a0", "a1", "a2", "a3"}, names)
	assert.Equal(t, aOrders, orders)
	_, orders = env.children(t, ptr("B"))
	sort.Ints(orders)
	assert.Equal(t, bOrders, orders)
}

// flakyUnitOfWork fails the first n transactions with a conflict.
type flakyUnitOfWork struct {
	inner db.UnitOfWork
	n     *int
}

func (f flakyUnitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context, tx db.DBTX) error) error {
	if *f.n > 0 {
		*f.n--
		return domain.ErrConflict
	}
	return f.inner.WithinTx(ctx, fn)
}

func TestMoveRetriesConflicts(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Tree.MaxMoveRetries = 2 })
	env.add(t, "a", nil)
	env.add(t, "b", nil)

	failures := 2
	env.Engine.Tx = flakyUnitOfWork{inner: db.NewUnitOfWork(env.Engine.DB), n: &failures}
	res := env.move(t, "b", nil, 0)
	assert.Equal(t, 3, res.Attempts)

	failures = 3
	_, err := env.Engine.MoveNode(env.Ctx, engine.MoveOptions{NodeID: "b", TargetIndex: 1})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}
