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

// Package enginetest provides an engine.Connector fake for tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/ibilux/draft-lab-db/internal/engine"
)

// Fake is an engine.Connector that records calls and returns configured results.
//
// The zero value is ready to use: Exec returns empty results, other calls succeed.
//
//nolint:vet // for readability
type Fake struct {
	m sync.Mutex

	// configuration, set before use
	ExecResult *engine.RawResult
	ExecErr    error
	BatchErr   error
	TxErr      error
	Image      []byte
	Persistent bool
	NotReady   bool
	DestroyErr error

	// recorded calls
	execs        []engine.Statement
	batches      [][]engine.Statement
	transactions [][]engine.Statement
	imported     []byte
	destroyed    int
}

// Exec implements engine.Connector interface.
func (f *Fake) Exec(ctx context.Context, stmt *engine.Statement) (*engine.RawResult, error) {
	f.m.Lock()
	defer f.m.Unlock()

	f.execs = append(f.execs, *stmt)

	if f.ExecErr != nil {
		return nil, f.ExecErr
	}

	if f.ExecResult == nil {
		return new(engine.RawResult), nil
	}

	return f.ExecResult, nil
}

// ExecBatch implements engine.Connector interface.
func (f *Fake) ExecBatch(ctx context.Context, stmts []engine.Statement) error {
	f.m.Lock()
	defer f.m.Unlock()

	f.batches = append(f.batches, stmts)

	return f.BatchErr
}

// Transaction implements engine.Connector interface.
func (f *Fake) Transaction(ctx context.Context, stmts []engine.Statement) error {
	f.m.Lock()
	defer f.m.Unlock()

	f.transactions = append(f.transactions, stmts)

	return f.TxErr
}

// IsReady implements engine.Connector interface.
func (f *Fake) IsReady() bool {
	f.m.Lock()
	defer f.m.Unlock()

	return !f.NotReady
}

// HasPersistentStorage implements engine.Connector interface.
func (f *Fake) HasPersistentStorage() bool {
	f.m.Lock()
	defer f.m.Unlock()

	return f.Persistent
}

// ExportDatabase implements engine.Connector interface.
func (f *Fake) ExportDatabase(ctx context.Context) ([]byte, error) {
	return f.Image, nil
}

// ImportDatabase implements engine.Connector interface.
func (f *Fake) ImportDatabase(ctx context.Context, data []byte) error {
	f.m.Lock()
	defer f.m.Unlock()

	f.imported = data

	return nil
}

// Destroy implements engine.Connector interface.
func (f *Fake) Destroy(ctx context.Context) error {
	f.m.Lock()
	defer f.m.Unlock()

	f.destroyed++

	return f.DestroyErr
}

// SetReady changes the reported readiness.
func (f *Fake) SetReady(ready bool) {
	f.m.Lock()
	defer f.m.Unlock()

	f.NotReady = !ready
}

// Execs returns statements passed to Exec.
func (f *Fake) Execs() []engine.Statement {
	f.m.Lock()
	defer f.m.Unlock()

	return append([]engine.Statement(nil), f.execs...)
}

// Batches returns statement lists passed to ExecBatch.
func (f *Fake) Batches() [][]engine.Statement {
	f.m.Lock()
	defer f.m.Unlock()

	return append([][]engine.Statement(nil), f.batches...)
}

// Transactions returns statement lists passed to Transaction.
func (f *Fake) Transactions() [][]engine.Statement {
	f.m.Lock()
	defer f.m.Unlock()

	return append([][]engine.Statement(nil), f.transactions...)
}

// Calls returns the total number of Exec, ExecBatch, and Transaction calls.
func (f *Fake) Calls() int {
	f.m.Lock()
	defer f.m.Unlock()

	return len(f.execs) + len(f.batches) + len(f.transactions)
}

// Imported returns data passed to the last ImportDatabase call.
func (f *Fake) Imported() []byte {
	f.m.Lock()
	defer f.m.Unlock()

	return f.imported
}

// Destroyed returns the number of Destroy calls.
func (f *Fake) Destroyed() int {
	f.m.Lock()
	defer f.m.Unlock()

	return f.destroyed
}

// check interfaces
var (
	_ engine.Connector = (*Fake)(nil)
)
