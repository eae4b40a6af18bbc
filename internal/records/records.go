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

// Package records converts columnar engine results into keyed records.
package records

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/ibilux/draft-lab-db/internal/engine"
)

// Record maps column names to row values.
type Record map[string]any

// Columns returns record's keys in sorted order.
func (r Record) Columns() []string {
	res := maps.Keys(r)
	slices.Sort(res)

	return res
}

// Diagnostic describes tolerated problems of a malformed result.
//
// Nil Diagnostic means that the result was well-formed.
type Diagnostic struct {
	NilResult    bool
	EmptyColumns int // number of empty column names
	NilRows      int // number of skipped nil rows
	ShortRows    int // number of rows with fewer values than columns
	LongRows     int // number of rows with more values than columns
}

// String implements fmt.Stringer.
func (d *Diagnostic) String() string {
	if d == nil {
		return "ok"
	}

	if d.NilResult {
		return "nil result"
	}

	var parts []string

	for _, p := range []struct {
		n    int
		desc string
	}{
		{d.EmptyColumns, "empty column names"},
		{d.NilRows, "nil rows"},
		{d.ShortRows, "short rows"},
		{d.LongRows, "long rows"},
	} {
		if p.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", p.n, p.desc))
		}
	}

	return strings.Join(parts, ", ")
}

// Materialize builds one record per result row by pairing column names with row values.
//
// It never fails: malformed parts of the result are skipped and reported in the returned Diagnostic.
// Values are not converted.
func Materialize(res *engine.RawResult) ([]Record, *Diagnostic) {
	if res == nil {
		return []Record{}, &Diagnostic{NilResult: true}
	}

	var d Diagnostic

	for _, c := range res.Columns {
		if c == "" {
			d.EmptyColumns++
		}
	}

	records := make([]Record, 0, len(res.Rows))

	for _, row := range res.Rows {
		if row == nil {
			d.NilRows++
			continue
		}

		switch {
		case len(row) < len(res.Columns):
			d.ShortRows++
		case len(row) > len(res.Columns):
			d.LongRows++
		}

		rec := make(Record, len(res.Columns))

		for i, c := range res.Columns {
			if c == "" || i >= len(row) {
				continue
			}

			rec[c] = row[i]
		}

		records = append(records, rec)
	}

	if d == (Diagnostic{}) {
		return records, nil
	}

	return records, &d
}

// First returns the first record of the result, or nil if there are none.
func First(res *engine.RawResult) (Record, *Diagnostic) {
	records, d := Materialize(res)
	if len(records) == 0 {
		return nil, d
	}

	return records[0], d
}
