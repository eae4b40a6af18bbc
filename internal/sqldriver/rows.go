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

package sqldriver

import (
	"database/sql/driver"
	"io"
)

// rows implements driver.Rows over columnar engine results.
type rows struct {
	columns []string
	values  [][]any
	i       int
}

// newRows returns rows for the given columns and row values.
//
// Value at position i of each row corresponds to the column i.
func newRows(columns []string, values [][]any) *rows {
	return &rows{columns: columns, values: values}
}

// Columns implements driver.Rows interface.
func (r *rows) Columns() []string {
	return r.columns
}

// Close implements driver.Rows interface.
func (r *rows) Close() error {
	r.values = nil
	r.i = 0

	return nil
}

// Next implements driver.Rows interface.
//
// Missing values of short rows are reported as NULL.
func (r *rows) Next(dest []driver.Value) error {
	if r.i >= len(r.values) {
		return io.EOF
	}

	row := r.values[r.i]
	r.i++

	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
			continue
		}

		dest[i] = nil
	}

	return nil
}

// check interfaces
var (
	_ driver.Rows = (*rows)(nil)
)
