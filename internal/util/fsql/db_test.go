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

package fsql

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	utiltestutil "github.com/ibilux/draft-lab-db/internal/util/testutil"
)

// setup returns a wrapped in-memory SQLite database with a single table.
func setup(t *testing.T) *DB {
	t.Helper()

	ctx := utiltestutil.Ctx(t)

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	sqlDB.SetMaxOpenConns(1)

	db := WrapDB(sqlDB, "test", utiltestutil.Logger(t))
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	require.NoError(t, db.PingContext(ctx))

	_, err = db.ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	return db
}

// count returns the number of rows in the table.
func count(t *testing.T, db *DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRowContext(utiltestutil.Ctx(t), "SELECT count(*) FROM t").Scan(&n))

	return n
}

func TestInTransaction(t *testing.T) {
	t.Parallel()

	t.Run("Commit", func(t *testing.T) {
		t.Parallel()

		ctx := utiltestutil.Ctx(t)
		db := setup(t)

		err := db.InTransaction(ctx, func(tx *Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (?)", 1); err != nil {
				return err
			}

			rows, err := tx.QueryContext(ctx, "SELECT id FROM t")
			if err != nil {
				return err
			}

			return rows.Close()
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, db))
	})

	t.Run("Error", func(t *testing.T) {
		t.Parallel()

		ctx := utiltestutil.Ctx(t)
		db := setup(t)

		expected := errors.New("expected")

		err := db.InTransaction(ctx, func(tx *Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (?)", 1)
			require.NoError(t, err)

			return expected
		})
		require.Equal(t, expected, err)
		assert.Equal(t, 0, count(t, db))
	})

	t.Run("Panic", func(t *testing.T) {
		t.Parallel()

		ctx := utiltestutil.Ctx(t)
		db := setup(t)

		assert.Panics(t, func() {
			_ = db.InTransaction(ctx, func(tx *Tx) error {
				_, err := tx.ExecContext(ctx, "INSERT INTO t VALUES (?)", 1)
				require.NoError(t, err)

				panic("boom")
			})
		})
		assert.Equal(t, 0, count(t, db))
	})
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	db := setup(t)
	assert.Equal(t, 3, testutil.CollectAndCount(db))
}
