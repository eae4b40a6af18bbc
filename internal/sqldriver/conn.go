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

package sqldriver

import (
	"context"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/ibilux/draft-lab-db/internal/builder"
	"github.com/ibilux/draft-lab-db/internal/engine"
)

// conn implements driver.Conn.
type conn struct {
	d  *builder.Driver
	bc *builder.Connection
}

// Prepare implements driver.Conn interface.
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext implements driver.ConnPrepareContext interface.
//
// Statements are not prepared by the engine; they are executed as is on each call.
func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return &stmt{c: c, query: query}, nil
}

// Close implements driver.Conn interface.
//
// Active transaction is rolled back.
func (c *conn) Close() error {
	ctx := context.Background()

	if c.bc.Transaction() != nil {
		if err := c.d.RollbackTransaction(ctx, c.bc); err != nil {
			return err
		}
	}

	return c.d.ReleaseConnection(ctx, c.bc)
}

// Begin implements driver.Conn interface.
func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx interface.
//
// Only default isolation level is supported.
// Read-only transactions are not supported.
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.Isolation != driver.IsolationLevel(0) {
		return nil, errors.New("sqldriver: isolation levels are not supported")
	}

	if opts.ReadOnly {
		return nil, errors.New("sqldriver: read-only transactions are not supported")
	}

	if err := c.d.BeginTransaction(ctx, c.bc); err != nil {
		return nil, err
	}

	return &tx{c: c}, nil
}

// QueryContext implements driver.QueryerContext interface.
func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	params, err := convertArgs(args)
	if err != nil {
		return nil, err
	}

	res, err := c.bc.ExecuteQuery(ctx, builder.CompiledQuery{SQL: query, Parameters: params})
	if err != nil {
		return nil, err
	}

	return newRows(res.Columns, res.Values), nil
}

// ExecContext implements driver.ExecerContext interface.
func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	params, err := convertArgs(args)
	if err != nil {
		return nil, err
	}

	q := builder.CompiledQuery{SQL: query, Parameters: params, Method: engine.MethodRun}

	res, err := c.bc.ExecuteQuery(ctx, q)
	if err != nil {
		return nil, err
	}

	if res.NumAffectedRows == nil {
		return pendingResult{}, nil
	}

	r := result{rowsAffected: *res.NumAffectedRows}
	if res.InsertID != nil {
		r.lastInsertID = *res.InsertID
	}

	return r, nil
}

// tx implements driver.Tx.
type tx struct {
	c *conn
}

// Commit implements driver.Tx interface.
//
// If commit fails, the transaction is rolled back,
// because database/sql does not call Rollback after failed Commit.
func (t *tx) Commit() error {
	ctx := context.Background()

	err := t.c.d.CommitTransaction(ctx, t.c.bc)
	if err == nil {
		return nil
	}

	if t.c.bc.Transaction() != nil {
		_ = t.c.d.RollbackTransaction(ctx, t.c.bc)
	}

	return err
}

// Rollback implements driver.Tx interface.
func (t *tx) Rollback() error {
	return t.c.d.RollbackTransaction(context.Background(), t.c.bc)
}

// stmt implements driver.Stmt.
type stmt struct {
	c     *conn
	query string
}

// Close implements driver.Stmt interface.
func (s *stmt) Close() error {
	return nil
}

// NumInput implements driver.Stmt interface.
//
// The number of placeholders is not known, so database/sql does not check it.
func (s *stmt) NumInput() int {
	return -1
}

// Exec implements driver.Stmt interface.
func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

// Query implements driver.Stmt interface.
func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// ExecContext implements driver.StmtExecContext interface.
func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.c.ExecContext(ctx, s.query, args)
}

// QueryContext implements driver.StmtQueryContext interface.
func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.c.QueryContext(ctx, s.query, args)
}

// result implements driver.Result for statements executed outside of transactions.
type result struct {
	lastInsertID int64
	rowsAffected int64
}

// LastInsertId implements driver.Result interface.
func (r result) LastInsertId() (int64, error) {
	return r.lastInsertID, nil
}

// RowsAffected implements driver.Result interface.
func (r result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

// pendingResult implements driver.Result for statements recorded inside transactions.
type pendingResult struct{}

// LastInsertId implements driver.Result interface.
func (pendingResult) LastInsertId() (int64, error) {
	return 0, ErrPending
}

// RowsAffected implements driver.Result interface.
func (pendingResult) RowsAffected() (int64, error) {
	return 0, ErrPending
}

// convertArgs converts database/sql arguments to engine parameters.
//
// Arguments should be either all named or all positional.
// time.Time values are passed as RFC 3339 text.
func convertArgs(args []driver.NamedValue) (engine.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}

	var positional engine.Positional
	var named engine.Named

	for _, arg := range args {
		v := arg.Value
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339Nano)
		}

		if arg.Name == "" {
			positional = append(positional, v)
			continue
		}

		if named == nil {
			named = make(engine.Named, len(args))
		}

		named[arg.Name] = v
	}

	switch {
	case named == nil:
		return positional, nil
	case positional == nil:
		return named, nil
	default:
		return nil, errors.New("sqldriver: named and positional arguments can't be mixed")
	}
}

// namedValues converts positional values to named values without names.
func namedValues(args []driver.Value) []driver.NamedValue {
	res := make([]driver.NamedValue, len(args))
	for i, v := range args {
		res[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}

	return res
}

// check interfaces
var (
	_ driver.Conn               = (*conn)(nil)
	_ driver.ConnBeginTx        = (*conn)(nil)
	_ driver.ConnPrepareContext = (*conn)(nil)
	_ driver.QueryerContext     = (*conn)(nil)
	_ driver.ExecerContext      = (*conn)(nil)
	_ driver.Tx                 = (*tx)(nil)
	_ driver.Stmt               = (*stmt)(nil)
	_ driver.StmtExecContext    = (*stmt)(nil)
	_ driver.StmtQueryContext   = (*stmt)(nil)
	_ driver.Result             = result{}
	_ driver.Result             = pendingResult{}
)
