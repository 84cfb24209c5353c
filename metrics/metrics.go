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

// Package metrics computes portfolio performance statistics from daily return
// series. All functions are pure; returns are never clipped, since anomalous
// instruments are dropped upstream during panel construction.
package metrics

import (
	"math"

	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
)

// tradingDays per year, used for annualization.
const tradingDays = 252

// Metrics is the standard performance summary of one daily return series. The
// equity curve starts at (1 + first return), compounding one factor per day.
type Metrics struct {
	Label          string    `json:"label"`
	TotalReturnPct float64   `json:"total_return_pct"`
	EquityStart    float64   `json:"equity_start"`
	EquityEnd      float64   `json:"equity_end"`
	CAGR           float64   `json:"cagr"`
	Vol            float64   `json:"vol"`
	Sharpe         float64   `json:"sharpe"`
	Sortino        float64   `json:"sortino"`
	MaxDrawdown    float64   `json:"max_dd"`
	Calmar         float64   `json:"calmar"`
	NDays          int       `json:"n_days"`
	EquityCurve    []float64 `json:"equity_curve,omitempty"`
}

func round(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}

func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Compute derives the full metrics set. NaN returns count as zero. Fewer than
// two days yields the zero-valued metrics with only the label set.
func Compute(returns []float64, label string) Metrics {
	m := Metrics{Label: label}
	rets := make([]float64, len(returns))
	for i, r := range returns {
		if !math.IsNaN(r) {
			rets[i] = r
		}
	}
	n := len(rets)
	m.NDays = n
	if n < 2 {
		return m
	}

	equity := make([]float64, n)
	acc := 1.0
	for i, r := range rets {
		acc *= 1 + r
		equity[i] = round(acc, 6)
	}
	start, end := equity[0], equity[n-1]
	m.EquityStart = start
	m.EquityEnd = end
	m.EquityCurve = equity
	if start != 0 {
		m.TotalReturnPct = round((end/start-1)*100, 6)
	}

	if start > 0 && end > 0 {
		years := float64(n) / tradingDays
		m.CAGR = round(math.Pow(end/start, 1/years)-1, 6)
	}

	vol := sampleStd(rets) * math.Sqrt(tradingDays)
	m.Vol = round(vol, 6)

	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(n)
	annMean := mean * tradingDays
	if vol > 0 {
		m.Sharpe = round(annMean/vol, 4)
	}

	var downside []float64
	for _, r := range rets {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	downsideStd := 1e-6
	if len(downside) > 1 {
		downsideStd = sampleStd(downside) * math.Sqrt(tradingDays)
	}
	if downsideStd > 0 {
		m.Sortino = round(annMean/downsideStd, 4)
	}

	maxDD := 0.0
	runningMax := equity[0]
	for _, e := range equity {
		if e > runningMax {
			runningMax = e
		}
		if dd := (e - runningMax) / runningMax; dd < maxDD {
			maxDD = dd
		}
	}
	m.MaxDrawdown = round(maxDD, 6)
	if maxDD != 0 {
		m.Calmar = round(m.CAGR/math.Abs(m.MaxDrawdown), 4)
	}
	return m
}

// HitRate is the fraction of signals whose predicted direction matched the
// realized direction.
func HitRate(signals []walkforward.Signal) float64 {
	if len(signals) == 0 {
		return 0
	}
	hits := 0
	for _, s := range signals {
		if (s.PredictedReturn > 0) == (s.ActualReturn > 0) {
			hits++
		}
	}
	return float64(hits) / float64(len(signals))
}

// Subperiod splits the series by calendar year and computes per-year metrics.
// Equity curves are omitted for compactness.
func Subperiod(returns []float64, dates []db.Date, label string) map[string]Metrics {
	byYear := make(map[string][]float64)
	for i, d := range dates {
		if i >= len(returns) {
			break
		}
		y := d.String()[:4]
		byYear[y] = append(byYear[y], returns[i])
	}
	out := make(map[string]Metrics, len(byYear))
	for y, rets := range byYear {
		m := Compute(rets, label+" "+y)
		m.EquityCurve = nil
		out[y] = m
	}
	return out
}

// AnnualizedTurnover scales total recorded turnover to a yearly rate.
func AnnualizedTurnover(turnoverByDate map[db.Date]float64, nDays int) float64 {
	if nDays == 0 {
		return 0
	}
	var total float64
	for _, t := range turnoverByDate {
		total += t
	}
	return total * tradingDays / float64(nDays)
}
