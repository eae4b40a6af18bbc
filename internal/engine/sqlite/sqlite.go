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

// Package sqlite provides the embedded SQLite engine connector based on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/util/fsql"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// Parts of Prometheus metric names.
const (
	namespace = "labdb"
	subsystem = "sqlite"
)

// memoryPath is the path of the in-memory database.
const memoryPath = ":memory:"

// Connector is the SQLite engine connector.
//
// It uses a single connection; all calls are serialized.
//
//nolint:vet // for readability
type Connector struct {
	path     string
	memory   bool
	readOnly bool
	l        *zap.Logger

	m  sync.Mutex
	db *fsql.DB

	closed atomic.Bool

	statements *prometheus.CounterVec
}

// NewParams represents the parameters of New function.
//
//nolint:vet // for readability
type NewParams struct {
	// Database file path; empty or ":memory:" for the in-memory database.
	Path     string
	ReadOnly bool
	L        *zap.Logger
}

// New opens the database.
func New(ctx context.Context, params *NewParams) (*Connector, error) {
	defer observability.FuncCall(ctx)()

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}

	c := &Connector{
		path:     params.Path,
		memory:   params.Path == "" || params.Path == memoryPath,
		readOnly: params.ReadOnly,
		l:        l,
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "statements_total",
				Help:      "Total number of executed statements.",
			},
			[]string{"method"},
		),
	}

	if c.memory && c.readOnly {
		return nil, lazyerrors.New("in-memory database can't be read-only")
	}

	uri := c.uri()

	sqlDB, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	sqlDB.SetConnMaxIdleTime(0)
	sqlDB.SetConnMaxLifetime(0)

	// an in-memory database exists only within its connection,
	// and ATTACH used by import is per-connection too
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	c.db = fsql.WrapDB(sqlDB, "sqlite", c.l)

	if err = c.db.PingContext(ctx); err != nil {
		_ = c.db.Close()
		return nil, lazyerrors.Error(err)
	}

	var version string
	if err = c.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		_ = c.db.Close()
		return nil, lazyerrors.Error(err)
	}

	c.l.Debug("Database opened.", zap.String("uri", uri), zap.String("version", version))

	return c, nil
}

// uri returns SQLite URI for the database.
func (c *Connector) uri() string {
	if c.memory {
		return memoryPath
	}

	values := url.Values{}
	values.Add("_pragma", "busy_timeout(5000)")

	if c.readOnly {
		values.Set("mode", "ro")
	} else {
		values.Add("_pragma", "journal_mode(wal)")
	}

	u := &url.URL{
		Scheme:   "file",
		Opaque:   c.path,
		RawQuery: values.Encode(),
	}

	return u.String()
}

// database returns the open database, or ErrClosed.
//
// It should be called with c.m held.
func (c *Connector) database() (*fsql.DB, error) {
	if c.closed.Load() {
		return nil, engine.ErrClosed
	}

	return c.db, nil
}

// Exec implements engine.Connector interface.
func (c *Connector) Exec(ctx context.Context, stmt *engine.Statement) (*engine.RawResult, error) {
	defer observability.FuncCall(ctx)()

	c.m.Lock()
	defer c.m.Unlock()

	db, err := c.database()
	if err != nil {
		return nil, err
	}

	return c.exec(ctx, db, stmt)
}

// ExecBatch implements engine.Connector interface.
//
// It stops at the first failed statement; previous statements stay applied.
func (c *Connector) ExecBatch(ctx context.Context, stmts []engine.Statement) error {
	defer observability.FuncCall(ctx)()

	c.m.Lock()
	defer c.m.Unlock()

	db, err := c.database()
	if err != nil {
		return err
	}

	for i := range stmts {
		if _, err = c.exec(ctx, db, &stmts[i]); err != nil {
			return fmt.Errorf("batch statement %d: %w", i+1, err)
		}
	}

	return nil
}

// Transaction implements engine.Connector interface.
func (c *Connector) Transaction(ctx context.Context, stmts []engine.Statement) error {
	defer observability.FuncCall(ctx)()

	c.m.Lock()
	defer c.m.Unlock()

	db, err := c.database()
	if err != nil {
		return err
	}

	return db.InTransaction(ctx, func(tx *fsql.Tx) error {
		for i := range stmts {
			if _, err := c.exec(ctx, tx, &stmts[i]); err != nil {
				return fmt.Errorf("transaction statement %d: %w", i+1, err)
			}
		}

		return nil
	})
}

// IsReady implements engine.Connector interface.
func (c *Connector) IsReady() bool {
	return !c.closed.Load()
}

// HasPersistentStorage implements engine.Connector interface.
func (c *Connector) HasPersistentStorage() bool {
	return !c.memory
}

// Destroy implements engine.Connector interface.
//
// It is safe to call it multiple times.
func (c *Connector) Destroy(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	c.m.Lock()
	defer c.m.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	c.l.Debug("Closing database.", zap.String("path", c.path))

	if err := c.db.Close(); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// querier is a common interface of fsql.DB and fsql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// exec executes a single statement using the given querier.
func (c *Connector) exec(ctx context.Context, q querier, stmt *engine.Statement) (*engine.RawResult, error) {
	args, err := engine.Args(stmt.Params)
	if err != nil {
		return nil, err
	}

	c.statements.WithLabelValues(stmt.Method.String()).Inc()

	if stmt.Method == engine.MethodRun {
		res, err := q.ExecContext(ctx, stmt.SQL, args...)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		var raw engine.RawResult

		// the driver always reports them; be lenient anyway
		raw.RowsAffected, _ = res.RowsAffected()
		raw.LastInsertID, _ = res.LastInsertId()

		return &raw, nil
	}

	rows, err := q.QueryContext(ctx, stmt.SQL, args...)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	defer rows.Close()

	var limit int
	if stmt.Method == engine.MethodGet {
		limit = 1
	}

	res, err := scanRows(rows, limit)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// scanRows reads all rows, or at most limit rows if limit is positive.
func scanRows(rows *sql.Rows, limit int) (*engine.RawResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &engine.RawResult{
		Columns: columns,
		Rows:    [][]any{},
	}

	for rows.Next() {
		if limit > 0 && len(res.Rows) == limit {
			break
		}

		dest := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range dest {
			ptrs[i] = &dest[i]
		}

		if err = rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		for i, v := range dest {
			dest[i] = convertValue(v)
		}

		res.Rows = append(res.Rows, dest)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return res, nil
}

// convertValue converts a value scanned by the driver to one of supported types.
func convertValue(v any) any {
	switch v := v.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []byte:
		// the driver may reuse the buffer
		b := make([]byte, len(v))
		copy(b, v)

		return b
	default:
		return v
	}
}

// Describe implements prometheus.Collector.
func (c *Connector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Connector) Collect(ch chan<- prometheus.Metric) {
	c.db.Collect(ch)
	c.statements.Collect(ch)

	var ready float64
	if c.IsReady() {
		ready = 1
	}

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "ready"),
			"Whether the database accepts statements.",
			nil, nil,
		),
		prometheus.GaugeValue,
		ready,
	)
}

// check interfaces
var (
	_ engine.Connector     = (*Connector)(nil)
	_ prometheus.Collector = (*Connector)(nil)
	_ querier              = (*fsql.DB)(nil)
	_ querier              = (*fsql.Tx)(nil)
)
