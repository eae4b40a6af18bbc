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

	"go.uber.org/zap"

	"github.com/ibilux/draft-lab-db/internal/engine"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
	"github.com/ibilux/draft-lab-db/internal/util/observability"
)

// ProxyQuery is a single query of ProxyDriver.Batch.
type ProxyQuery struct {
	SQL    string
	Params engine.Params

	// The zero value returns all rows.
	Method engine.Method
}

// ProxyDriver passes queries to the engine as is and returns raw columnar results.
//
// Transactions started with BEGIN statements through ProxyDriver run directly on the engine
// and are not isolated from other queries.
type ProxyDriver struct {
	conn   engine.Connector
	l      *zap.Logger
	warner *BeginWarner
}

// NewProxyDriverParams represents the parameters of NewProxyDriver function.
//
//nolint:vet // for readability
type NewProxyDriverParams struct {
	Connector engine.Connector
	L         *zap.Logger

	// Warner is used for raw BEGIN statements; a new one is created if nil.
	Warner *BeginWarner
}

// NewProxyDriver creates a new ProxyDriver.
func NewProxyDriver(params *NewProxyDriverParams) (*ProxyDriver, error) {
	if params.Connector == nil {
		return nil, lazyerrors.New("connector is nil")
	}

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}

	warner := params.Warner
	if warner == nil {
		warner = NewBeginWarner(l)
	}

	return &ProxyDriver{
		conn:   params.Connector,
		l:      l,
		warner: warner,
	}, nil
}

// Query executes a single query with the given method.
func (p *ProxyDriver) Query(ctx context.Context, query string, params engine.Params, method engine.Method) (*engine.RawResult, error) {
	defer observability.FuncCall(ctx)()

	p.warner.Check(query)

	return p.conn.Exec(ctx, &engine.Statement{SQL: query, Params: params, Method: method})
}

// SQL executes a single query and returns all rows.
func (p *ProxyDriver) SQL(ctx context.Context, query string, params engine.Params) (*engine.RawResult, error) {
	return p.Query(ctx, query, params, engine.MethodAll)
}

// Batch executes queries in order as a single engine batch.
func (p *ProxyDriver) Batch(ctx context.Context, queries []ProxyQuery) error {
	defer observability.FuncCall(ctx)()

	if len(queries) == 0 {
		return nil
	}

	stmts := make([]engine.Statement, len(queries))
	for i, q := range queries {
		stmts[i] = engine.Statement{SQL: q.SQL, Params: q.Params, Method: q.Method}
	}

	return p.conn.ExecBatch(ctx, stmts)
}
