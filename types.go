// Copyright 2024 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package walkforward

import (
	"sort"

	"github.com/stockparfait/stockparfait/db"
)

// Bar is one normalized daily price observation. Open, High, Low and Volume
// may be NaN when the source does not carry the column; Close is always set
// for a valid bar.
type Bar struct {
	Date   db.Date
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Signal is a cross-sectional model prediction emitted at a rebalance date.
// ActualReturn is the realized forward return of the same horizon, recorded
// for hit-rate diagnostics only; the simulator never reads it.
type Signal struct {
	Date            db.Date
	Ticker          string
	PredictedReturn float64
	ActualReturn    float64
}

// Weights maps ticker to a signed fraction of capital: positive = long,
// negative = short. Iterate with Tickers() wherever the order is observable,
// so that serialized output and floating-point sums stay deterministic.
type Weights map[string]float64

// Tickers returns the tickers in ascending order.
func (w Weights) Tickers() []string {
	ts := make([]string, 0, len(w))
	for t := range w {
		ts = append(ts, t)
	}
	sort.Strings(ts)
	return ts
}

// Gross is the sum of absolute weights (gross exposure).
func (w Weights) Gross() float64 {
	var g float64
	for _, v := range w {
		if v < 0 {
			g -= v
		} else {
			g += v
		}
	}
	return g
}

// Copy returns a shallow copy of the weight map.
func (w Weights) Copy() Weights {
	c := make(Weights, len(w))
	for t, v := range w {
		c[t] = v
	}
	return c
}

// Turnover is the L1 distance between two weight vectors over the union of
// their tickers.
func Turnover(old, new Weights) float64 {
	var sum float64
	union := make(map[string]struct{}, len(old)+len(new))
	for t := range old {
		union[t] = struct{}{}
	}
	for t := range new {
		union[t] = struct{}{}
	}
	for t := range union {
		d := new[t] - old[t]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// DayReturn is the simulator's record for one calendar day.
type DayReturn struct {
	Date     db.Date
	Gross    float64
	Net      float64
	Turnover float64
	Holdings int
}
