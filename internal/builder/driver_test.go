// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package builder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/client"
	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/engine/enginetest"
	"github.com/ibilux/draft-lab-db/internal/records"
	"github.com/ibilux/draft-lab-db/internal/util/testutil"
)

// setup returns a driver with a fake connector and an acquired connection.
func setup(t *testing.T) (*Driver, *Connection, *enginetest.Fake) {
	t.Helper()

	ctx := testutil.Ctx(t)
	l := testutil.Logger(t)

	f := new(enginetest.Fake)

	c, err := client.New(&client.NewParams{Connector: f, L: l})
	require.NoError(t, err)

	d, err := NewDriver(&NewDriverParams{Client: c, L: l})
	require.NoError(t, err)
	require.NoError(t, d.Init(ctx))

	conn, err := d.AcquireConnection(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, d.ReleaseConnection(ctx, conn))
	})

	return d, conn, f
}

func TestNewDriver(t *testing.T) {
	t.Parallel()

	_, err := NewDriver(&NewDriverParams{})
	require.Error(t, err)
}

func TestExecuteQuery(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	t.Run("All", func(t *testing.T) {
		t.Parallel()

		_, conn, f := setup(t)
		f.ExecResult = &engine.RawResult{
			Columns: []string{"id", "name"},
			Rows:    [][]any{{int64(1), "a"}, {int64(2), "b"}},
		}

		res, err := conn.ExecuteQuery(ctx, CompiledQuery{SQL: "SELECT id, name FROM t"})
		require.NoError(t, err)

		expected := []records.Record{
			{"id": int64(1), "name": "a"},
			{"id": int64(2), "name": "b"},
		}
		assert.Equal(t, expected, res.Rows)
		assert.Equal(t, []string{"id", "name"}, res.Columns)
		assert.Equal(t, f.ExecResult.Rows, res.Values)
		assert.Nil(t, res.NumAffectedRows)
		assert.Nil(t, res.InsertID)

		require.Len(t, f.Execs(), 1)
		assert.Equal(t, engine.MethodAll, f.Execs()[0].Method)
	})

	t.Run("Get", func(t *testing.T) {
		t.Parallel()

		_, conn, f := setup(t)

		res, err := conn.ExecuteQuery(ctx, CompiledQuery{SQL: "SELECT 1 WHERE 0", Method: engine.MethodGet})
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
		assert.NotNil(t, res.Rows)

		f.ExecResult = &engine.RawResult{Columns: []string{"x"}, Rows: [][]any{{int64(1)}}}

		res, err = conn.ExecuteQuery(ctx, CompiledQuery{SQL: "SELECT 1 AS x", Method: engine.MethodGet})
		require.NoError(t, err)
		assert.Equal(t, []records.Record{{"x": int64(1)}}, res.Rows)
	})

	t.Run("Run", func(t *testing.T) {
		t.Parallel()

		_, conn, f := setup(t)
		f.ExecResult = &engine.RawResult{RowsAffected: 3, LastInsertID: 7}

		q := CompiledQuery{
			SQL:        "UPDATE t SET name = ?",
			Parameters: engine.Positional{"x"},
			Method:     engine.MethodRun,
		}
		res, err := conn.ExecuteQuery(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, res.Rows)
		require.NotNil(t, res.NumAffectedRows)
		assert.Equal(t, int64(3), *res.NumAffectedRows)
		require.NotNil(t, res.InsertID)
		assert.Equal(t, int64(7), *res.InsertID)

		expected := []engine.Statement{{SQL: q.SQL, Params: q.Parameters, Method: engine.MethodRun}}
		assert.Equal(t, expected, f.Execs())
	})

	t.Run("Error", func(t *testing.T) {
		t.Parallel()

		_, conn, f := setup(t)
		f.ExecErr = errors.New("boom")

		_, err := conn.ExecuteQuery(ctx, CompiledQuery{SQL: "SELECT"})
		require.ErrorIs(t, err, f.ExecErr)
	})
}

func TestStreamQuery(t *testing.T) {
	t.Parallel()

	_, conn, f := setup(t)

	ch, err := conn.StreamQuery(testutil.Ctx(t), CompiledQuery{SQL: "SELECT 1"}, 10)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Contains(t, err.Error(), "SQLite does not support streaming")
	assert.Nil(t, ch)
	assert.Zero(t, f.Calls())
}

func TestDriverTransaction(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	t.Run("Commit", func(t *testing.T) {
		t.Parallel()

		d, conn, f := setup(t)

		require.NoError(t, d.BeginTransaction(ctx, conn))
		require.ErrorIs(t, d.BeginTransaction(ctx, conn), ErrTransactionInProgress)

		q1 := CompiledQuery{SQL: "INSERT INTO t VALUES (?)", Parameters: engine.Positional{1}, Method: engine.MethodRun}
		q2 := CompiledQuery{SQL: "SELECT * FROM t"}

		for _, q := range []CompiledQuery{q1, q2} {
			res, err := conn.ExecuteQuery(ctx, q)
			require.NoError(t, err)
			assert.Empty(t, res.Rows)
			assert.Nil(t, res.NumAffectedRows)
		}

		assert.Zero(t, f.Calls(), "nothing should be executed before commit")
		assert.Equal(t, 2, conn.Transaction().Len())

		require.NoError(t, d.CommitTransaction(ctx, conn))
		assert.Nil(t, conn.Transaction())

		expected := [][]engine.Statement{{
			{SQL: q1.SQL, Params: q1.Parameters, Method: engine.MethodRun},
			{SQL: q2.SQL, Method: engine.MethodRun},
		}}
		assert.Equal(t, expected, f.Transactions())

		require.ErrorIs(t, d.CommitTransaction(ctx, conn), ErrNoTransaction)
		require.ErrorIs(t, d.RollbackTransaction(ctx, conn), ErrNoTransaction)
	})

	t.Run("CommitEmpty", func(t *testing.T) {
		t.Parallel()

		d, conn, f := setup(t)

		require.NoError(t, d.BeginTransaction(ctx, conn))
		require.NoError(t, d.CommitTransaction(ctx, conn))
		assert.Zero(t, f.Calls())
	})

	t.Run("Rollback", func(t *testing.T) {
		t.Parallel()

		d, conn, f := setup(t)

		require.NoError(t, d.BeginTransaction(ctx, conn))
		tx := conn.Transaction()

		_, err := conn.ExecuteQuery(ctx, CompiledQuery{SQL: "DELETE FROM t", Method: engine.MethodRun})
		require.NoError(t, err)

		require.NoError(t, d.RollbackTransaction(ctx, conn))
		assert.Nil(t, conn.Transaction())
		assert.Equal(t, TxRolledBack, tx.State())
		assert.Zero(t, f.Calls())

		// the connection executes queries immediately again
		_, err = conn.ExecuteQuery(ctx, CompiledQuery{SQL: "SELECT 1"})
		require.NoError(t, err)
		assert.Len(t, f.Execs(), 1)
	})

	t.Run("CommitFailed", func(t *testing.T) {
		t.Parallel()

		d, conn, f := setup(t)
		f.TxErr = errors.New("constraint failed")

		require.NoError(t, d.BeginTransaction(ctx, conn))

		_, err := conn.ExecuteQuery(ctx, CompiledQuery{SQL: "INSERT INTO t VALUES (1)", Method: engine.MethodRun})
		require.NoError(t, err)

		err = d.CommitTransaction(ctx, conn)
		require.ErrorIs(t, err, f.TxErr)

		tx := conn.Transaction()
		require.NotNil(t, tx)
		assert.Equal(t, TxActive, tx.State())

		require.NoError(t, d.RollbackTransaction(ctx, conn))
		assert.Equal(t, TxRolledBack, tx.State())
	})
}

func TestTransactionStates(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	d, _, f := setup(t)

	tx := d.Begin(ctx)
	assert.Equal(t, TxActive, tx.State())

	_, err := tx.Query(ctx, CompiledQuery{SQL: "INSERT INTO t VALUES (1)"})
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())
	assert.Len(t, f.Transactions(), 1)

	_, err = tx.Query(ctx, CompiledQuery{SQL: "SELECT 1"})
	require.ErrorIs(t, err, ErrTransactionCompleted)
	require.ErrorIs(t, tx.Commit(ctx), ErrTransactionCompleted)
	require.ErrorIs(t, tx.Rollback(ctx), ErrTransactionCompleted)
	assert.Equal(t, TxCommitted, tx.State())

	tx = d.Begin(ctx)
	require.NoError(t, tx.Rollback(ctx))
	require.ErrorIs(t, tx.Commit(ctx), ErrTransactionCompleted)
	assert.Equal(t, TxRolledBack, tx.State())

	assert.Len(t, f.Transactions(), 1)
	assert.Equal(t, "rolled back", TxRolledBack.String())
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	d, _, f := setup(t)

	require.NoError(t, d.Destroy(ctx))
	assert.Equal(t, 1, f.Destroyed())
}

func TestBeginWarner(t *testing.T) {
	t.Parallel()

	l, logs := testutil.ObservedLogger(zap.NewAtomicLevelAt(zap.WarnLevel))
	w := NewBeginWarner(l)

	assert.False(t, w.Check("SELECT 1"))
	assert.False(t, w.Check("BEGINNING"))
	assert.False(t, w.Warned())

	assert.True(t, w.Check("  begin transaction"))
	assert.True(t, w.Warned())
	assert.False(t, w.Check("BEGIN"))
	assert.False(t, w.Check("BEGIN IMMEDIATE"))

	assert.Equal(t, 1, logs.Len())
}

func TestBeginWarnerShared(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	l, logs := testutil.ObservedLogger(zap.NewAtomicLevelAt(zap.WarnLevel))
	w := NewBeginWarner(l)

	f := new(enginetest.Fake)

	c, err := client.New(&client.NewParams{Connector: f, L: l})
	require.NoError(t, err)

	d, err := NewDriver(&NewDriverParams{Client: c, L: l, Warner: w})
	require.NoError(t, err)

	p, err := NewProxyDriver(&NewProxyDriverParams{Connector: f, L: l, Warner: w})
	require.NoError(t, err)

	conn, err := d.AcquireConnection(ctx)
	require.NoError(t, err)

	_, err = conn.ExecuteQuery(ctx, CompiledQuery{SQL: "BEGIN", Method: engine.MethodRun})
	require.NoError(t, err)

	_, err = p.Query(ctx, "begin", nil, engine.MethodRun)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.Len())
	assert.Len(t, f.Execs(), 2, "BEGIN statements should still be executed")
}
