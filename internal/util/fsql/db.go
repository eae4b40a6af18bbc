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

// Package fsql provides [database/sql] utilities.
package fsql

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// DB wraps [*database/sql.DB] with tracing, metrics and logging.
//
// It exposes the subset of *sql.DB methods we use.
// It also exposes additional methods.
type DB struct {
	*metricsCollector

	sqlDB *sql.DB
	l     *zap.Logger
}

// WrapDB creates a new DB.
//
// Name is used for metric label values, etc.
// Logger (that will be named) is used for query logging.
func WrapDB(db *sql.DB, name string, l *zap.Logger) *DB {
	if db == nil {
		return nil
	}

	return &DB{
		metricsCollector: newMetricsCollector(name, db.Stats),
		sqlDB:            db,
		l:                l.Named(name),
	}
}

// Close calls [*sql.DB.Close].
func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// PingContext calls [*sql.DB.PingContext].
func (db *DB) PingContext(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	return db.sqlDB.PingContext(ctx)
}

// QueryContext calls [*sql.DB.QueryContext].
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	return queryContext(ctx, db.sqlDB, db.l, query, args...)
}

// QueryRowContext calls [*sql.DB.QueryRowContext].
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer observability.FuncCall(ctx)()

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	db.l.Sugar().With(fields...).Debugf(">>> %s", query)

	row := db.sqlDB.QueryRowContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(row.Err()))
	db.l.Sugar().With(fields...).Debugf("<<< %s", query)

	return row
}

// ExecContext calls [*sql.DB.ExecContext].
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	return execContext(ctx, db.sqlDB, db.l, query, args...)
}

// InTransaction wraps the given function f in a transaction.
//
// If f returns an error, panics, or context is canceled, the transaction is rolled back.
func (db *DB) InTransaction(ctx context.Context, f func(*Tx) error) (err error) {
	defer observability.FuncCall(ctx)()

	var sqlTx *sql.Tx

	if sqlTx, err = db.sqlDB.BeginTx(ctx, nil); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	tx := wrapTx(sqlTx, db.l)

	var done bool

	defer func() {
		// Checking a separate variable handles panics and runtime.Goexit in f,
		// that leave err unset.
		if done {
			return
		}

		if err == nil {
			err = lazyerrors.Errorf("transaction was not committed")
		}

		_ = tx.Rollback()
	}()

	if err = f(tx); err != nil {
		// do not wrap f's error because the caller depends on it in some cases
		return
	}

	if err = tx.Commit(); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	done = true

	return
}

// querier is a common interface of *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryContext runs query with logging.
func queryContext(ctx context.Context, q querier, l *zap.Logger, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()

	fields := []any{zap.Any("args", args)}
	l.Sugar().With(fields...).Debugf(">>> %s", query)

	rows, err := q.QueryContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	l.Sugar().With(fields...).Debugf("<<< %s", query)

	return rows, err
}

// execContext runs exec with logging.
func execContext(ctx context.Context, q querier, l *zap.Logger, query string, args ...any) (sql.Result, error) {
	start := time.Now()

	fields := []any{zap.Any("args", args)}
	l.Sugar().With(fields...).Debugf(">>> %s", query)

	res, err := q.ExecContext(ctx, query, args...)

	// to differentiate between 0 and nil
	var ra *int64

	if res != nil {
		rav, _ := res.RowsAffected()
		ra = &rav
	}

	fields = append(fields, zap.Int64p("rows", ra), zap.Duration("time", time.Since(start)), zap.Error(err))
	l.Sugar().With(fields...).Debugf("<<< %s", query)

	return res, err
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
	_ querier              = (*sql.DB)(nil)
	_ querier              = (*sql.Tx)(nil)
)
