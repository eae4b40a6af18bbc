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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// gatherTTL is the time gathered metrics are reused for.
const gatherTTL = time.Second

// gatherer caches metrics of another Gatherer for gatherTTL.
//
// Both the metrics handler and graphs use it,
// so a single graphs refresh gathers metrics once.
type gatherer struct {
	g prometheus.Gatherer
	l *zap.Logger

	m       sync.Mutex
	fetched time.Time
	mfs     []*dto.MetricFamily
}

// newGatherer returns a new gatherer.
func newGatherer(g prometheus.Gatherer, l *zap.Logger) *gatherer {
	return &gatherer{
		g: g,
		l: l,
	}
}

// Gather implements prometheus.Gatherer.
//
// Gathering errors are logged; partial results are returned without an error.
func (g *gatherer) Gather() ([]*dto.MetricFamily, error) {
	g.m.Lock()
	defer g.m.Unlock()

	if time.Since(g.fetched) < gatherTTL {
		return g.mfs, nil
	}

	mfs, err := g.g.Gather()
	if err != nil {
		g.l.Warn("Failed to gather metrics.", zap.Error(err), zap.Int("families", len(mfs)))
	}

	g.mfs, g.fetched = mfs, time.Now()

	return mfs, nil
}

// sum returns the sum of all counters and gauges with the given name.
func (g *gatherer) sum(name string) float64 {
	mfs, _ := g.Gather()

	var res float64

	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			switch mf.GetType() { //nolint:exhaustive // other types are not plotted
			case dto.MetricType_COUNTER:
				res += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				res += m.GetGauge().GetValue()
			}
		}
	}

	return res
}

// check interfaces
var (
	_ prometheus.Gatherer = (*gatherer)(nil)
)
