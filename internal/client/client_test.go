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

package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelsdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/engine/enginetest"
	"github.com/ibilux/draft-lab-db/internal/records"
	utiltestutil "github.com/ibilux/draft-lab-db/internal/util/testutil"
)

// setup returns a client with a fake connector.
func setup(t *testing.T) (*Client, *enginetest.Fake) {
	t.Helper()

	f := new(enginetest.Fake)

	c, err := New(&NewParams{Connector: f, L: utiltestutil.Logger(t)})
	require.NoError(t, err)

	return c, f
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(&NewParams{})
	require.Error(t, err)

	c, err := New(&NewParams{Connector: new(enginetest.Fake)})
	require.NoError(t, err)
	require.NotNil(t, c)
}

func TestTransaction(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	err := c.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		p, err := tx.Run("INSERT INTO t VALUES (1)", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, p.Index())

		p, err = tx.Run("INSERT INTO t VALUES (?)", engine.Positional{2})
		require.NoError(t, err)
		assert.Equal(t, 1, p.Index())

		assert.Equal(t, SessionRecording, tx.State())
		assert.Equal(t, 0, f.Calls(), "nothing should be executed inside the callback")

		return nil
	})
	require.NoError(t, err)

	expected := [][]engine.Statement{{
		{SQL: "INSERT INTO t VALUES (1)", Method: engine.MethodRun},
		{SQL: "INSERT INTO t VALUES (?)", Params: engine.Positional{2}, Method: engine.MethodRun},
	}}
	assert.Equal(t, expected, f.Transactions())
	assert.Empty(t, f.Batches())
	assert.Empty(t, f.Execs())
}

func TestBatch(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	var session *Session

	err := c.Batch(ctx, func(ctx context.Context, b *Session) error {
		session = b

		for _, record := range []func(string, engine.Params) (Pending, error){b.SQL, b.Query, b.Run} {
			_, err := record("SELECT 1", engine.Named{"a": 1})
			require.NoError(t, err)
		}

		assert.Equal(t, 3, b.Len())

		return nil
	})
	require.NoError(t, err)

	stmt := engine.Statement{SQL: "SELECT 1", Params: engine.Named{"a": 1}, Method: engine.MethodRun}
	assert.Equal(t, [][]engine.Statement{{stmt, stmt, stmt}}, f.Batches(), "every method must be forced to run")
	assert.Empty(t, f.Transactions())

	assert.Equal(t, SessionDone, session.State())
	assert.NotEmpty(t, session.ID())

	_, err = session.Run("INSERT INTO t VALUES (3)", nil)
	require.ErrorIs(t, err, ErrSessionCompleted)
	assert.Len(t, f.Batches(), 1)
}

func TestSessionEmpty(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	res, err := InTransaction(ctx, c, func(ctx context.Context, tx *Session) (string, error) {
		return "result", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "result", res)

	require.NoError(t, c.Batch(ctx, func(context.Context, *Session) error { return nil }))

	assert.Equal(t, 0, f.Calls())
}

func TestSessionResult(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	res, err := InBatch(ctx, c, func(ctx context.Context, b *Session) (int, error) {
		_, err := b.Run("INSERT INTO t VALUES (1)", nil)
		return 42, err
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Len(t, f.Batches(), 1)
}

func TestSessionCallbackError(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	expected := errors.New("callback failed")

	res, err := InTransaction(ctx, c, func(ctx context.Context, tx *Session) (int, error) {
		_, err := tx.Run("INSERT INTO t VALUES (1)", nil)
		require.NoError(t, err)

		return 42, expected
	})
	require.Equal(t, expected, err, "callback error must be returned as is")
	assert.Zero(t, res)

	err = c.Batch(ctx, func(ctx context.Context, b *Session) error {
		_, err := b.Run("INSERT INTO t VALUES (1)", nil)
		require.NoError(t, err)

		return expected
	})
	require.Equal(t, expected, err)

	assert.Equal(t, 0, f.Calls(), "nothing should be submitted")
}

func TestSessionPanic(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	var session *Session

	assert.PanicsWithValue(t, "boom", func() {
		_ = c.Transaction(ctx, func(ctx context.Context, tx *Session) error {
			session = tx

			_, err := tx.Run("INSERT INTO t VALUES (1)", nil)
			require.NoError(t, err)

			panic("boom")
		})
	})

	assert.Equal(t, 0, f.Calls(), "nothing should be submitted")
	assert.Equal(t, SessionDone, session.State())
}

func TestSessionReplayError(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	f.TxErr = errors.New("engine failed")

	res, err := InTransaction(ctx, c, func(ctx context.Context, tx *Session) (int, error) {
		_, err := tx.Run("INSERT INTO t VALUES (1)", nil)
		return 42, err
	})
	require.Equal(t, f.TxErr, err)
	assert.Zero(t, res)
	assert.Len(t, f.Transactions(), 1)
}

func TestSessionConcurrentRecording(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	const n = 50

	err := c.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		var wg sync.WaitGroup

		for i := 0; i < n; i++ {
			wg.Add(1)

			go func(i int) {
				defer wg.Done()

				_, err := tx.Run("INSERT INTO t VALUES (?)", engine.Positional{i})
				assert.NoError(t, err)
			}(i)
		}

		wg.Wait()

		return nil
	})
	require.NoError(t, err)

	txs := f.Transactions()
	require.Len(t, txs, 1)
	assert.Len(t, txs[0], n)
}

func TestSessionSpans(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)

	sr := tracetest.NewSpanRecorder()
	tp := otelsdktrace.NewTracerProvider(otelsdktrace.WithSpanProcessor(sr))

	c, err := New(&NewParams{
		Connector:      new(enginetest.Fake),
		L:              utiltestutil.Logger(t),
		TracerProvider: tp,
	})
	require.NoError(t, err)

	err = c.Batch(ctx, func(ctx context.Context, b *Session) error {
		_, err := b.Run("INSERT INTO t VALUES (1)", nil)
		return err
	})
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "batch", spans[0].Name())
}

func TestFacade(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	f.ExecResult = &engine.RawResult{
		Columns:      []string{"id", "name"},
		Rows:         [][]any{{int64(1), "a"}},
		RowsAffected: 3,
		LastInsertID: 7,
	}

	rec, err := c.Get(ctx, "SELECT * FROM t WHERE id = ?", engine.Positional{1})
	require.NoError(t, err)
	assert.Equal(t, records.Record{"id": int64(1), "name": "a"}, rec)

	recs, err := c.Query(ctx, "SELECT * FROM t", nil)
	require.NoError(t, err)
	assert.Equal(t, []records.Record{{"id": int64(1), "name": "a"}}, recs)

	recs, err = c.SQL(ctx, "SELECT * FROM t", engine.Positional{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	raw, err := c.Raw(ctx, "SELECT * FROM t", nil)
	require.NoError(t, err)
	assert.Equal(t, f.ExecResult, raw)

	require.NoError(t, c.Run(ctx, "DELETE FROM t", nil))

	res, err := c.Exec(ctx, "DELETE FROM t", nil)
	require.NoError(t, err)
	assert.Equal(t, &ExecResult{RowsAffected: 3, LastInsertID: 7}, res)

	var methods []engine.Method
	for _, stmt := range f.Execs() {
		methods = append(methods, stmt.Method)
	}

	expected := []engine.Method{
		engine.MethodGet, engine.MethodAll, engine.MethodAll, engine.MethodAll, engine.MethodRun, engine.MethodRun,
	}
	assert.Equal(t, expected, methods)

	f.ExecResult = &engine.RawResult{Columns: []string{"id", "name"}, Rows: [][]any{}}

	rec, err = c.Get(ctx, "SELECT * FROM t WHERE id = ?", engine.Positional{1})
	require.NoError(t, err)
	assert.Nil(t, rec)

	f.ExecErr = errors.New("engine failed")

	_, err = c.Query(ctx, "SELECT * FROM t", nil)
	require.Equal(t, f.ExecErr, err)

	_, err = c.Get(ctx, "SELECT * FROM t", nil)
	require.Equal(t, f.ExecErr, err)

	require.Equal(t, f.ExecErr, c.Run(ctx, "DELETE FROM t", nil))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, f := setup(t)

	f.Persistent = true
	assert.Equal(t, Status{Ready: true, Persistent: true}, c.Status())

	f.SetReady(false)
	assert.Equal(t, Status{Ready: false, Persistent: true}, c.Status(), "status must not be cached")

	f.Image = []byte("image")

	b, err := c.ExportDatabase(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.Image, b)

	require.NoError(t, c.ImportDatabase(ctx, []byte("other")))
	assert.Equal(t, []byte("other"), f.Imported())

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, 1, f.Destroyed())
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c, _ := setup(t)

	assert.Equal(t, 0, testutil.CollectAndCount(c))

	err := c.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		_, err := tx.Run("INSERT INTO t VALUES (1)", nil)
		return err
	})
	require.NoError(t, err)

	require.NoError(t, c.Transaction(ctx, func(context.Context, *Session) error { return nil }))

	assert.Equal(t, 2, testutil.CollectAndCount(c, "labdb_client_sessions_total"))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.replayed))
}
