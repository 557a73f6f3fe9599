package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ganttline/internal/config"
	"ganttline/internal/domain"
	"ganttline/internal/engine"
)

var nodeCols = []string{"id", "project_id", "parent_id", "name", "order_index", "created_at", "updated_at"}

const ts = "2024-01-01T00:00:00Z"

// A failing sibling shift must roll the whole move back: the moved node's
// own write and the event never happen.
func TestMoveRollsBackWhenShiftFails(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM wbs_nodes WHERE id=\?`).WithArgs("Y").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("Y", "p1", "A", "Y", 1, ts, ts))
	mock.ExpectQuery(`FROM wbs_nodes WHERE id=\?`).WithArgs("A").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow("A", "p1", nil, "A", 0, ts, ts))
	mock.ExpectQuery(`FROM wbs_nodes WHERE project_id=\? AND parent_id=\?`).WithArgs("p1", "A").
		WillReturnRows(sqlmock.NewRows(nodeCols).
			AddRow("X", "p1", "A", "X", 0, ts, ts).
			AddRow("Y", "p1", "A", "Y", 1, ts, ts).
			AddRow("Z", "p1", "A", "Z", 2, ts, ts))
	mock.ExpectExec(`UPDATE wbs_nodes SET parent_id=\?, order_index=\?`).WithArgs("A", 1, ts, "X").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	a := "A"
	_, err = eng.MoveNode(context.Background(), engine.MoveOptions{NodeID: "Y", TargetParentID: &a, TargetIndex: 0})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMoveSurfacesStorageUnavailable(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin().WillReturnError(errors.New("database is closed"))
	eng := engine.New(conn, config.Default(), nil)
	_, err = eng.MoveNode(context.Background(), engine.MoveOptions{NodeID: "Y"})
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet(), "storage failures are not retried")
}
