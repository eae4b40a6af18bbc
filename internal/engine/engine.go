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

// Package engine defines the contract of the embedded database engine
// and the statement and result types shared by all layers above it.
//
// Concrete engines live in subpackages.
package engine

import (
	"context"
	"errors"
)

// ErrClosed is returned by connectors after Destroy.
var ErrClosed = errors.New("engine is closed")

// Connector is an embedded database engine.
//
// Implementations must serialize concurrent ExecBatch and Transaction calls
// and execute statements of a single call in the given order.
type Connector interface {
	// Exec executes a single statement.
	Exec(ctx context.Context, stmt *Statement) (*RawResult, error)

	// ExecBatch executes statements in order with no isolation guarantee
	// beyond the engine's own.
	ExecBatch(ctx context.Context, stmts []Statement) error

	// Transaction executes statements in order; either all of them are applied or none.
	Transaction(ctx context.Context, stmts []Statement) error

	// IsReady returns true if the engine accepts statements.
	IsReady() bool

	// HasPersistentStorage returns true if the engine stores data durably.
	HasPersistentStorage() bool

	// ExportDatabase returns raw database bytes.
	ExportDatabase(ctx context.Context) ([]byte, error)

	// ImportDatabase replaces database content with the given raw bytes.
	ImportDatabase(ctx context.Context, data []byte) error

	// Destroy tears the engine down.
	Destroy(ctx context.Context) error
}

// RawResult is the columnar result of a single statement.
//
// Value at position i of each row corresponds to the column i.
type RawResult struct {
	Columns []string
	Rows    [][]any

	// Set for MethodRun only.
	RowsAffected int64
	LastInsertID int64
}
