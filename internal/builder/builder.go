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

// Package builder adapts the client to pluggable-driver protocols of query builders.
//
// Driver maps the connection and transaction lifecycle of a query builder
// (acquire, begin, execute, commit, rollback, release, destroy) to the client.
// Statements executed inside a transaction are recorded and submitted to the engine
// as a single transaction on commit; their results are not available to the caller.
//
// ProxyDriver serves query builders that consume raw column and row arrays.
package builder

import (
	"errors"
	"regexp"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/records"
)

var (
	// ErrTransactionCompleted is returned for operations on committed or rolled back transactions.
	ErrTransactionCompleted = errors.New("transaction is already completed")

	// ErrTransactionInProgress is returned when a connection already has an active transaction.
	ErrTransactionInProgress = errors.New("transaction is already in progress")

	// ErrNoTransaction is returned when a connection has no active transaction.
	ErrNoTransaction = errors.New("no transaction in progress")

	// ErrUnsupported is returned for operations the engine can't perform.
	ErrUnsupported = errors.New("unsupported operation")
)

// CompiledQuery is a query produced by a query builder.
type CompiledQuery struct {
	SQL        string
	Parameters engine.Params

	// Method selects the result mode outside of transactions.
	// The zero value returns all rows.
	Method engine.Method
}

// QueryResult is the result of CompiledQuery execution.
type QueryResult struct {
	Rows []records.Record

	// Set only for queries with engine.MethodAll executed outside of transactions.
	// Columns keep the select list order; Values are rows in the same order.
	Columns []string
	Values  [][]any

	// Set only for queries with engine.MethodRun executed outside of transactions.
	NumAffectedRows *int64
	InsertID        *int64
}

// beginRe matches statements that start a transaction.
var beginRe = regexp.MustCompile(`(?i)^\s*begin\b`)

// BeginWarner logs a single warning when a transaction is started by a raw BEGIN statement
// instead of the driver's own methods.
//
// Such transactions are not isolated from other queries executed through the same driver.
// A single BeginWarner can be shared between drivers to warn once for all of them.
type BeginWarner struct {
	l      *zap.Logger
	warned atomic.Bool
}

// NewBeginWarner creates a new BeginWarner that logs to l.
func NewBeginWarner(l *zap.Logger) *BeginWarner {
	if l == nil {
		l = zap.NewNop()
	}

	return &BeginWarner{l: l}
}

// Check logs the warning if the query starts a transaction and the warning was not logged before.
//
// It returns true if the warning was logged by this call.
func (w *BeginWarner) Check(query string) bool {
	if !beginRe.MatchString(query) {
		return false
	}

	if w.warned.Swap(true) {
		return false
	}

	w.l.Warn(
		"Transactions started with BEGIN statement are not isolated from other queries; " +
			"use driver's transaction methods instead.",
	)

	return true
}

// Warned returns true if the warning was logged.
func (w *BeginWarner) Warned() bool {
	return w.warned.Load()
}
