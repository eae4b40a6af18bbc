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
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// Tx wraps [*database/sql.Tx] with logging.
//
// It exposes the subset of *sql.Tx methods we use.
type Tx struct {
	sqlTx *sql.Tx
	l     *zap.Logger
}

// wrapTx creates new Tx.
func wrapTx(tx *sql.Tx, l *zap.Logger) *Tx {
	if tx == nil {
		return nil
	}

	return &Tx{
		sqlTx: tx,
		l:     l,
	}
}

// QueryContext calls [*sql.Tx.QueryContext].
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	return queryContext(ctx, tx.sqlTx, tx.l, query, args...)
}

// ExecContext calls [*sql.Tx.ExecContext].
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	return execContext(ctx, tx.sqlTx, tx.l, query, args...)
}

// Commit calls [*sql.Tx.Commit].
func (tx *Tx) Commit() error {
	return tx.sqlTx.Commit()
}

// Rollback calls [*sql.Tx.Rollback].
func (tx *Tx) Rollback() error {
	return tx.sqlTx.Rollback()
}
