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


// Package labdb provides an embeddable SQL facade over SQLite.
//
// DB executes single statements immediately, and statements recorded inside
// Batch and Transaction callbacks all at once after the callback returns.
// Query builders can use DB through Driver, ProxyDriver, or database/sql.
package labdb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/builder"
	"github.com/ibilux/draft-lab-db/internal/client"
	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/engine/sqlite"
	"github.com/ibilux/draft-lab-db/internal/records"
	"github.com/ibilux/draft-lab-db/internal/sqldriver"
)

// Types used by DB methods and drivers.
type (
	// Client is the SQL execution facade.
	Client = client.Client

	// Session records statements inside Batch and Transaction callbacks.
	Session = client.Session

	// Record is a single result row keyed by column name.
	Record = records.Record

	// Params are statement parameters; either Positional or Named.
	Params = engine.Params

	// Positional are parameters bound by position.
	Positional = engine.Positional

	// Named are parameters bound by name.
	Named = engine.Named

	// Method selects the result mode of a statement.
	Method = engine.Method

	// RawResult is the columnar result of a single statement.
	RawResult = engine.RawResult

	// Driver implements the query builder driver protocol.
	Driver = builder.Driver

	// Connection is a query builder connection.
	Connection = builder.Connection

	// Transaction is a query builder transaction.
	Transaction = builder.Transaction

	// CompiledQuery is a query produced by a query builder.
	CompiledQuery = builder.CompiledQuery

	// QueryResult is the result of CompiledQuery execution.
	QueryResult = builder.QueryResult

	// ProxyDriver passes queries to the engine as is and returns raw columnar results.
	ProxyDriver = builder.ProxyDriver

	// ProxyQuery is a single query of ProxyDriver batch.
	ProxyQuery = builder.ProxyQuery
)

// Result modes.
const (
	MethodAll = engine.MethodAll
	MethodGet = engine.MethodGet
	MethodRun = engine.MethodRun
)

// Errors returned by drivers and sessions.
var (
	ErrSessionCompleted      = client.ErrSessionCompleted
	ErrTransactionCompleted  = builder.ErrTransactionCompleted
	ErrTransactionInProgress = builder.ErrTransactionInProgress
	ErrNoTransaction         = builder.ErrNoTransaction
	ErrUnsupported           = builder.ErrUnsupported
	ErrPending               = sqldriver.ErrPending
)

// Config represents DB configuration.
type Config struct {
	// Database file path.
	// If empty or ":memory:", the in-memory database is used.
	Path string

	// Open the database file in read-only mode.
	ReadOnly bool

	// Logger to use; the global zap logger is used if nil.
	Logger *zap.Logger

	// TracerProvider is used for session spans; the global provider is used if nil.
	TracerProvider trace.TracerProvider
}

// DB represents an instance of embeddable database.
type DB struct {
	conn   *sqlite.Connector
	c      *client.Client
	l      *zap.Logger
	warner *builder.BeginWarner
}

// New opens the database.
func New(ctx context.Context, config *Config) (*DB, error) {
	l := config.Logger
	if l == nil {
		l = zap.L()
	}

	conn, err := sqlite.New(ctx, &sqlite.NewParams{
		Path:     config.Path,
		ReadOnly: config.ReadOnly,
		L:        l.Named("sqlite"),
	})
	if err != nil {
		return nil, err
	}

	c, err := client.New(&client.NewParams{
		Connector:      conn,
		L:              l.Named("client"),
		TracerProvider: config.TracerProvider,
	})
	if err != nil {
		return nil, errors.Join(err, conn.Destroy(ctx))
	}

	return &DB{
		conn:   conn,
		c:      c,
		l:      l,
		warner: builder.NewBeginWarner(l.Named("builder")),
	}, nil
}

// Client returns the SQL execution facade.
func (db *DB) Client() *Client {
	return db.c
}

// NewDriver returns a new query builder driver.
//
// Destroying the driver closes the database.
func (db *DB) NewDriver() (*Driver, error) {
	return builder.NewDriver(&builder.NewDriverParams{
		Client: db.c,
		L:      db.l.Named("driver"),
		Warner: db.warner,
	})
}

// NewProxyDriver returns a new driver for query builders that consume raw columns and rows.
func (db *DB) NewProxyDriver() (*ProxyDriver, error) {
	return builder.NewProxyDriver(&builder.NewProxyDriverParams{
		Connector: db.conn,
		L:         db.l.Named("proxy"),
		Warner:    db.warner,
	})
}

// OpenDB returns database/sql handle on top of a new query builder driver.
//
// Closing the returned handle closes the database.
func (db *DB) OpenDB() (*sql.DB, error) {
	d, err := db.NewDriver()
	if err != nil {
		return nil, err
	}

	return sql.OpenDB(sqldriver.NewConnector(d)), nil
}

// OpenDBx is like OpenDB, but returns sqlx handle.
func (db *DB) OpenDBx() (*sqlx.DB, error) {
	sdb, err := db.OpenDB()
	if err != nil {
		return nil, err
	}

	return sqlx.NewDb(sdb, "sqlite3"), nil
}

// Close closes the database.
func (db *DB) Close(ctx context.Context) error {
	return db.c.Close(ctx)
}

// Describe implements prometheus.Collector.
func (db *DB) Describe(ch chan<- *prometheus.Desc) {
	db.conn.Describe(ch)
	db.c.Describe(ch)
}

// Collect implements prometheus.Collector.
func (db *DB) Collect(ch chan<- prometheus.Metric) {
	db.conn.Collect(ch)
	db.c.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
)
