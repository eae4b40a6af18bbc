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

// Package sqldriver provides database/sql driver on top of the query builder driver.
//
// Use sql.OpenDB with Connector:
//
//	db := sql.OpenDB(sqldriver.NewConnector(d))
//
// Statements executed inside database/sql transactions are recorded and submitted
// to the engine as a single transaction on commit. Their results are not available:
// queries return no rows, and RowsAffected and LastInsertId methods of results return ErrPending.
//
// Result columns are reported in the order of the query's select list.
package sqldriver

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/ibilux/draft-lab-db/internal/builder"
	"github.com/ibilux/draft-lab-db/internal/util/lazyerrors"
)

// ErrPending is returned for results of statements executed inside transactions.
var ErrPending = errors.New("result is not available inside transaction")

// Connector implements driver.Connector for the query builder driver.
type Connector struct {
	d *builder.Driver
}

// NewConnector creates a new Connector.
//
// Closing sql.DB that uses it destroys the driver.
func NewConnector(d *builder.Driver) *Connector {
	return &Connector{d: d}
}

// Connect implements driver.Connector interface.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	bc, err := c.d.AcquireConnection(ctx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &conn{d: c.d, bc: bc}, nil
}

// Driver implements driver.Connector interface.
func (c *Connector) Driver() driver.Driver {
	return sqlDriver{}
}

// Close implements io.Closer interface.
//
// It is called by sql.DB.Close.
func (c *Connector) Close() error {
	return c.d.Destroy(context.Background())
}

// sqlDriver is returned by Connector.Driver.
type sqlDriver struct{}

// Open implements driver.Driver interface.
//
// Data source names are not supported; use sql.OpenDB with Connector instead.
func (sqlDriver) Open(name string) (driver.Conn, error) {
	return nil, lazyerrors.New("data source names are not supported, use sql.OpenDB")
}

// check interfaces
var (
	_ driver.Connector = (*Connector)(nil)
	_ driver.Driver    = sqlDriver{}
)
