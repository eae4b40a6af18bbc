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

	"github.com/ibilux/draft-lab-db/internal/client"
	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/records"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// TxState represents the state of a Transaction.
type TxState int

// Transaction states.
// TxCommitted and TxRolledBack are terminal.
const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

// String implements fmt.Stringer.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return fmt.Sprintf("TxState(%d)", int(s))
	}
}

// Transaction records queries and submits them to the client on commit.
type Transaction struct {
	c *client.Client

	m     sync.Mutex
	state TxState
	stmts []engine.Statement
}

// newTransaction creates a new active Transaction.
func newTransaction(c *client.Client) *Transaction {
	return &Transaction{
		c:     c,
		state: TxActive,
	}
}

// State returns the current transaction state.
func (tx *Transaction) State() TxState {
	tx.m.Lock()
	defer tx.m.Unlock()

	return tx.state
}

// Len returns the number of recorded queries.
func (tx *Transaction) Len() int {
	tx.m.Lock()
	defer tx.m.Unlock()

	return len(tx.stmts)
}

// Query records the query and returns an empty result.
func (tx *Transaction) Query(ctx context.Context, q CompiledQuery) (*QueryResult, error) {
	tx.m.Lock()
	defer tx.m.Unlock()

	if tx.state != TxActive {
		return nil, ErrTransactionCompleted
	}

	tx.stmts = append(tx.stmts, engine.Statement{SQL: q.SQL, Params: q.Parameters, Method: q.Method})

	return &QueryResult{Rows: []records.Record{}}, nil
}

// Commit submits recorded queries as a single engine transaction.
//
// If submission fails, the transaction stays active and can be rolled back.
func (tx *Transaction) Commit(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	tx.m.Lock()
	defer tx.m.Unlock()

	if tx.state != TxActive {
		return ErrTransactionCompleted
	}

	if len(tx.stmts) > 0 {
		err := tx.c.Transaction(ctx, func(ctx context.Context, s *client.Session) error {
			for _, stmt := range tx.stmts {
				if _, err := s.Run(stmt.SQL, stmt.Params); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	tx.state = TxCommitted

	return nil
}

// Rollback discards recorded queries.
//
// Nothing is executed, because nothing was executed before.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.m.Lock()
	defer tx.m.Unlock()

	if tx.state != TxActive {
		return ErrTransactionCompleted
	}

	tx.stmts = nil
	tx.state = TxRolledBack

	return nil
}
