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

package debug

import (
	"github.com/arl/statsviz"
)

// newPlots returns graphs of engine and client metrics.
func newPlots(g *gatherer) ([]statsviz.TimeSeriesPlot, error) {
	statements, err := statsviz.TimeSeriesPlotConfig{
		Name:       "labdb-statements",
		Title:      "Statements",
		Type:       statsviz.Scatter,
		InfoText:   "Total number of statements executed by the engine.",
		YAxisTitle: "statements",
		Series: []statsviz.TimeSeries{{
			Name:     "executed",
			Unitfmt:  "%{y:.4s}",
			GetValue: func() float64 { return g.sum("labdb_sqlite_statements_total") },
		}, {
			Name:     "replayed",
			Unitfmt:  "%{y:.4s}",
			GetValue: func() float64 { return g.sum("labdb_client_replayed_statements_total") },
		}},
	}.Build()
	if err != nil {
		return nil, err
	}

	sessions, err := statsviz.TimeSeriesPlotConfig{
		Name:       "labdb-sessions",
		Title:      "Sessions",
		Type:       statsviz.Bar,
		InfoText:   "Total number of batch and transaction sessions.",
		YAxisTitle: "sessions",
		Series: []statsviz.TimeSeries{{
			Name:     "sessions",
			Unitfmt:  "%{y:.4s}",
			GetValue: func() float64 { return g.sum("labdb_client_sessions_total") },
		}},
	}.Build()
	if err != nil {
		return nil, err
	}

	connections, err := statsviz.TimeSeriesPlotConfig{
		Name:       "labdb-connections",
		Title:      "Database connections",
		Type:       statsviz.Scatter,
		InfoText:   "Open and in-use connections of the engine's connection pool.",
		YAxisTitle: "connections",
		Series: []statsviz.TimeSeries{{
			Name:     "open",
			Unitfmt:  "%{y:.4s}",
			GetValue: func() float64 { return g.sum("labdb_sqldb_open") },
		}, {
			Name:     "in use",
			Unitfmt:  "%{y:.4s}",
			GetValue: func() float64 { return g.sum("labdb_sqldb_in_use") },
		}},
	}.Build()
	if err != nil {
		return nil, err
	}

	return []statsviz.TimeSeriesPlot{statements, sessions, connections}, nil
}
