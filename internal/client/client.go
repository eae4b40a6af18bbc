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

// Package client provides the SQL execution facade over an embedded engine,
// including deferred batches and transactions.
//
// Single statements are executed immediately.
// Statements recorded inside Batch and Transaction callbacks are executed
// only after the callback returns without error, all at once.
package client

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/records"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// Parts of Prometheus metric names.
const (
	namespace = "labdb"
	subsystem = "client"
)

// Client executes SQL statements using the engine connector.
//
// After Close, the behavior of all other methods is undefined;
// Client itself does not guard against that.
type Client struct {
	conn   engine.Connector
	l      *zap.Logger
	tracer trace.Tracer

	sessions *prometheus.CounterVec
	replayed *prometheus.CounterVec
}

// NewParams represents the parameters of New function.
//
//nolint:vet // for readability
type NewParams struct {
	Connector engine.Connector
	L         *zap.Logger

	// TracerProvider is used for session spans; the global provider is used if nil.
	TracerProvider trace.TracerProvider
}

// Status represents the engine status.
type Status struct {
	Ready      bool
	Persistent bool
}

// ExecResult represents the result of a statement executed for side effects.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// New creates a new Client.
func New(params *NewParams) (*Client, error) {
	if params.Connector == nil {
		return nil, lazyerrors.New("connector is nil")
	}

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}

	return &Client{
		conn:   params.Connector,
		l:      l,
		tracer: observability.Tracer(params.TracerProvider),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_total",
				Help:      "Total number of batch and transaction sessions by outcome.",
			},
			[]string{"flavor", "outcome"},
		),
		replayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "replayed_statements_total",
				Help:      "Total number of statements submitted by batch and transaction sessions.",
			},
			[]string{"flavor"},
		),
	}, nil
}

// SQL executes the query and returns all result records.
func (c *Client) SQL(ctx context.Context, query string, params engine.Params) ([]records.Record, error) {
	defer observability.FuncCall(ctx)()

	return c.all(ctx, query, params)
}

// Query executes the query and returns all result records.
func (c *Client) Query(ctx context.Context, query string, params engine.Params) ([]records.Record, error) {
	defer observability.FuncCall(ctx)()

	return c.all(ctx, query, params)
}

// Raw executes the query and returns the engine's columnar result as is.
//
// Columns keep the order and duplicates of the query's select list.
func (c *Client) Raw(ctx context.Context, query string, params engine.Params) (*engine.RawResult, error) {
	defer observability.FuncCall(ctx)()

	return c.conn.Exec(ctx, &engine.Statement{SQL: query, Params: params, Method: engine.MethodAll})
}

// Get executes the query and returns the first result record, or nil if there are none.
func (c *Client) Get(ctx context.Context, query string, params engine.Params) (records.Record, error) {
	defer observability.FuncCall(ctx)()

	res, err := c.conn.Exec(ctx, &engine.Statement{SQL: query, Params: params, Method: engine.MethodGet})
	if err != nil {
		return nil, err
	}

	rec, d := records.First(res)
	c.logDiagnostic(query, d)

	return rec, nil
}

// Run executes the statement for side effects only.
func (c *Client) Run(ctx context.Context, query string, params engine.Params) error {
	defer observability.FuncCall(ctx)()

	_, err := c.conn.Exec(ctx, &engine.Statement{SQL: query, Params: params, Method: engine.MethodRun})

	return err
}

// Exec executes the statement for side effects and returns the number of affected rows
// and the last inserted row ID.
func (c *Client) Exec(ctx context.Context, query string, params engine.Params) (*ExecResult, error) {
	defer observability.FuncCall(ctx)()

	res, err := c.conn.Exec(ctx, &engine.Statement{SQL: query, Params: params, Method: engine.MethodRun})
	if err != nil {
		return nil, err
	}

	return &ExecResult{
		RowsAffected: res.RowsAffected,
		LastInsertID: res.LastInsertID,
	}, nil
}

// Status returns the current engine status.
//
// It is okay to call this function often.
// The caller should not cache result; it is always read from the engine.
func (c *Client) Status() Status {
	return Status{
		Ready:      c.conn.IsReady(),
		Persistent: c.conn.HasPersistentStorage(),
	}
}

// ExportDatabase returns raw database bytes.
func (c *Client) ExportDatabase(ctx context.Context) ([]byte, error) {
	defer observability.FuncCall(ctx)()

	return c.conn.ExportDatabase(ctx)
}

// ImportDatabase replaces database content with raw database bytes.
func (c *Client) ImportDatabase(ctx context.Context, data []byte) error {
	defer observability.FuncCall(ctx)()

	return c.conn.ImportDatabase(ctx, data)
}

// Close tears the engine down.
func (c *Client) Close(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	return c.conn.Destroy(ctx)
}

// all executes the query with "all" method and materializes records.
func (c *Client) all(ctx context.Context, query string, params engine.Params) ([]records.Record, error) {
	res, err := c.conn.Exec(ctx, &engine.Statement{SQL: query, Params: params, Method: engine.MethodAll})
	if err != nil {
		return nil, err
	}

	recs, d := records.Materialize(res)
	c.logDiagnostic(query, d)

	return recs, nil
}

// logDiagnostic logs a malformed result, if any.
func (c *Client) logDiagnostic(query string, d *records.Diagnostic) {
	if d == nil {
		return
	}

	c.l.Debug("Malformed engine result.", zap.String("sql", query), zap.Stringer("diagnostic", d))
}

// Describe implements prometheus.Collector.
func (c *Client) Describe(ch chan<- *prometheus.Desc) {
	c.sessions.Describe(ch)
	c.replayed.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Client) Collect(ch chan<- prometheus.Metric) {
	c.sessions.Collect(ch)
	c.replayed.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Client)(nil)
)
