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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/engine/sqlite"
	"github.com/ibilux/draft-lab-db/internal/records"
	utiltestutil "github.com/ibilux/draft-lab-db/internal/util/testutil"
)

// setupSQLite returns a client with in-memory SQLite connector and table t.
func setupSQLite(t *testing.T) *Client {
	t.Helper()

	ctx := utiltestutil.Ctx(t)
	l := utiltestutil.Logger(t)

	conn, err := sqlite.New(ctx, &sqlite.NewParams{L: l})
	require.NoError(t, err)

	c, err := New(&NewParams{Connector: conn, L: l})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, c.Close(ctx))
	})

	require.NoError(t, c.Run(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)", nil))

	return c
}

func TestSQLiteTransactionAtomicity(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c := setupSQLite(t)

	err := c.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		for _, q := range []string{
			"INSERT INTO t VALUES (1, 'a')",
			"INSERT INTO t VALUES (2, 'b')",
			"INSERT INTO t VALUES (1, 'duplicate')",
		} {
			if _, err := tx.Run(q, nil); err != nil {
				return err
			}
		}

		// the facade sees nothing while recording
		recs, err := c.Query(ctx, "SELECT * FROM t", nil)
		require.NoError(t, err)
		assert.Empty(t, recs)

		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")

	recs, err := c.Query(ctx, "SELECT * FROM t", nil)
	require.NoError(t, err)
	assert.Empty(t, recs, "earlier statements must not be applied")

	err = c.Transaction(ctx, func(ctx context.Context, tx *Session) error {
		_, err := tx.Run("INSERT INTO t VALUES (?, ?)", engine.Positional{1, "a"})
		require.NoError(t, err)

		_, err = tx.Query("INSERT INTO t VALUES (:id, :name)", engine.Named{"id": 2, "name": "b"})

		return err
	})
	require.NoError(t, err)

	recs, err = c.Query(ctx, "SELECT id, name FROM t ORDER BY id", nil)
	require.NoError(t, err)

	expected := []records.Record{
		{"id": int64(1), "name": "a"},
		{"id": int64(2), "name": "b"},
	}
	assert.Equal(t, expected, recs)
}

func TestSQLiteBatch(t *testing.T) {
	t.Parallel()

	ctx := utiltestutil.Ctx(t)
	c := setupSQLite(t)

	err := c.Batch(ctx, func(ctx context.Context, b *Session) error {
		_, err := b.Run("INSERT INTO t VALUES (1, 'a')", nil)
		require.NoError(t, err)

		// recorded as "run", so rows are discarded
		_, err = b.SQL("SELECT * FROM t", nil)

		return err
	})
	require.NoError(t, err)

	rec, err := c.Get(ctx, "SELECT * FROM t WHERE id = ?", engine.Positional{1})
	require.NoError(t, err)
	assert.Equal(t, records.Record{"id": int64(1), "name": "a"}, rec)

	rec, err = c.Get(ctx, "SELECT * FROM t WHERE id = ?", engine.Positional{2})
	require.NoError(t, err)
	assert.Nil(t, rec)

	status := c.Status()
	assert.True(t, status.Ready)
	assert.False(t, status.Persistent)
}
