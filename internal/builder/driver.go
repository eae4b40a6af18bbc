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
	"context"
	"fmt"
	"sync"

	"github.com/AlekSi/pointer"
	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/client"
	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/records"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// Driver implements the query builder driver protocol on top of the client.
type Driver struct {
	c      *client.Client
	l      *zap.Logger
	warner *BeginWarner
}

// NewDriverParams represents the parameters of NewDriver function.
//
//nolint:vet // for readability
type NewDriverParams struct {
	Client *client.Client
	L      *zap.Logger

	// Warner is used for raw BEGIN statements; a new one is created if nil.
	Warner *BeginWarner
}

// NewDriver creates a new Driver.
func NewDriver(params *NewDriverParams) (*Driver, error) {
	if params.Client == nil {
		return nil, lazyerrors.New("client is nil")
	}

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}

	warner := params.Warner
	if warner == nil {
		warner = NewBeginWarner(l)
	}

	return &Driver{
		c:      params.Client,
		l:      l,
		warner: warner,
	}, nil
}

// Init initializes the driver.
func (d *Driver) Init(ctx context.Context) error {
	return nil
}

// AcquireConnection returns a new connection without a transaction.
func (d *Driver) AcquireConnection(ctx context.Context) (*Connection, error) {
	return &Connection{d: d}, nil
}

// Begin returns a new active transaction that is not attached to any connection.
func (d *Driver) Begin(ctx context.Context) *Transaction {
	return newTransaction(d.c)
}

// BeginTransaction starts a new transaction on the connection.
func (d *Driver) BeginTransaction(ctx context.Context, conn *Connection) error {
	conn.m.Lock()
	defer conn.m.Unlock()

	if conn.tx != nil {
		return ErrTransactionInProgress
	}

	conn.tx = d.Begin(ctx)

	return nil
}

// CommitTransaction commits the connection's transaction.
//
// If commit fails, the transaction stays attached to the connection.
func (d *Driver) CommitTransaction(ctx context.Context, conn *Connection) error {
	defer observability.FuncCall(ctx)()

	conn.m.Lock()
	defer conn.m.Unlock()

	if conn.tx == nil {
		return ErrNoTransaction
	}

	if err := conn.tx.Commit(ctx); err != nil {
		return err
	}

	conn.tx = nil

	return nil
}

// RollbackTransaction rolls back the connection's transaction.
func (d *Driver) RollbackTransaction(ctx context.Context, conn *Connection) error {
	conn.m.Lock()
	defer conn.m.Unlock()

	if conn.tx == nil {
		return ErrNoTransaction
	}

	if err := conn.tx.Rollback(ctx); err != nil {
		return err
	}

	conn.tx = nil

	return nil
}

// ReleaseConnection releases the connection.
func (d *Driver) ReleaseConnection(ctx context.Context, conn *Connection) error {
	return nil
}

// Destroy closes the client.
func (d *Driver) Destroy(ctx context.Context) error {
	d.l.Debug("Destroying driver.")

	return d.c.Close(ctx)
}

// Connection is a query builder connection.
type Connection struct {
	d *Driver

	m  sync.Mutex
	tx *Transaction
}

// Transaction returns the active transaction, or nil.
func (conn *Connection) Transaction() *Transaction {
	conn.m.Lock()
	defer conn.m.Unlock()

	return conn.tx
}

// ExecuteQuery executes the query.
//
// Outside of the transaction, the query is executed immediately.
// Inside the transaction, it is recorded, and an empty result is returned.
func (conn *Connection) ExecuteQuery(ctx context.Context, q CompiledQuery) (*QueryResult, error) {
	defer observability.FuncCall(ctx)()

	conn.m.Lock()
	tx := conn.tx
	conn.m.Unlock()

	if tx != nil {
		return tx.Query(ctx, q)
	}

	conn.d.warner.Check(q.SQL)

	c := conn.d.c

	switch q.Method {
	case engine.MethodRun:
		res, err := c.Exec(ctx, q.SQL, q.Parameters)
		if err != nil {
			return nil, err
		}

		return &QueryResult{
			Rows:            []records.Record{},
			NumAffectedRows: pointer.ToInt64(res.RowsAffected),
			InsertID:        pointer.ToInt64(res.LastInsertID),
		}, nil

	case engine.MethodGet:
		rec, err := c.Get(ctx, q.SQL, q.Parameters)
		if err != nil {
			return nil, err
		}

		rows := []records.Record{}
		if rec != nil {
			rows = append(rows, rec)
		}

		return &QueryResult{Rows: rows}, nil

	default:
		res, err := c.Raw(ctx, q.SQL, q.Parameters)
		if err != nil {
			return nil, err
		}

		rows, diag := records.Materialize(res)
		if diag != nil {
			conn.d.l.Debug("Malformed engine result.", zap.String("sql", q.SQL), zap.Stringer("diagnostic", diag))
		}

		qr := &QueryResult{Rows: rows}
		if res != nil {
			qr.Columns = res.Columns
			qr.Values = res.Rows
		}

		return qr, nil
	}
}

// StreamQuery always returns ErrUnsupported: the engine can't stream results.
func (conn *Connection) StreamQuery(ctx context.Context, q CompiledQuery, chunkSize int) (<-chan *QueryResult, error) {
	return nil, fmt.Errorf("%w: SQLite does not support streaming", ErrUnsupported)
}
