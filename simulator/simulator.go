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

// Package simulator executes the daily portfolio simulation. The key
// invariant: weights computed from signals at date t take effect at the next
// trading day t+1, and trading costs apply only on those rebalance trade
// days. The simulation runs on its own clock, advanced one day at a time.
package simulator

import (
	"context"
	"math"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/panel"
	"github.com/stockparfait/walkforward/portfolio"
)

// Result is the full daily record of one simulation.
type Result struct {
	Days          []walkforward.DayReturn
	NumRebalances int
	TotalCost     float64
	// TurnoverByDate records L1 turnover on each rebalance trade day.
	TurnoverByDate map[db.Date]float64
}

// GrossReturns extracts the daily gross return series.
func (r *Result) GrossReturns() []float64 {
	out := make([]float64, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Gross
	}
	return out
}

// NetReturns extracts the daily net return series.
func (r *Result) NetReturns() []float64 {
	out := make([]float64, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Net
	}
	return out
}

// Dates extracts the simulated calendar.
func (r *Result) Dates() []db.Date {
	out := make([]db.Date, len(r.Days))
	for i, d := range r.Days {
		out[i] = d.Date
	}
	return out
}

// AvgHoldings is the mean number of open positions per day.
func (r *Result) AvgHoldings() float64 {
	if len(r.Days) == 0 {
		return 0
	}
	var sum float64
	for _, d := range r.Days {
		sum += float64(d.Holdings)
	}
	return sum / float64(len(r.Days))
}

// Run simulates the strategy over the out-of-sample dates. Signals must be
// sorted by date; their dates form the rebalance schedule. Weight construction
// happens at the signal date using only data visible then; the position change
// and its cost land on the following day.
func Run(ctx context.Context, signals []walkforward.Signal, p *panel.Panel,
	cfg *config.Backtest, oosDates []db.Date) (*Result, error) {
	if len(oosDates) == 0 {
		return nil, walkforward.InsufficientData("no out-of-sample dates to simulate")
	}
	clock := walkforward.NewClock()
	if err := clock.Init(oosDates); err != nil {
		return nil, errors.Annotate(err, "bad out-of-sample calendar")
	}

	signalsByDate := make(map[db.Date][]walkforward.Signal)
	for _, s := range signals {
		signalsByDate[s.Date] = append(signalsByDate[s.Date], s)
	}

	costRate := (cfg.CostBps + cfg.SlippageBps) / 10000.0
	res := &Result{TurnoverByDate: make(map[db.Date]float64)}

	current := walkforward.Weights{}
	var pending walkforward.Weights
	hasPending := false

	for i, date := range oosDates {
		if err := clock.AdvanceTo(date); err != nil {
			return nil, errors.Annotate(err, "clock failed at %s", date)
		}

		// Weights decided at the previous signal date take effect now.
		tradeDay := false
		var turnover float64
		if hasPending {
			turnover = walkforward.Turnover(current, pending)
			current = pending
			pending = nil
			hasPending = false
			tradeDay = true
			res.TurnoverByDate[date] = turnover
			res.NumRebalances++
		}

		// A signal today only produces weights for tomorrow.
		if sigs, ok := signalsByDate[date]; ok {
			w, err := portfolio.Construct(sigs, p, cfg, date, clock)
			if err != nil {
				return nil, errors.Annotate(err, "portfolio construction at %s", date)
			}
			pending = w
			hasPending = true
		}

		day := walkforward.DayReturn{Date: date, Holdings: len(current)}
		if i > 0 && len(current) > 0 {
			var gross float64
			for _, t := range current.Tickers() {
				r, err := p.DailyReturn(clock, t, date)
				if err != nil {
					return nil, errors.Annotate(err, "daily return of %s at %s", t, date)
				}
				if !math.IsNaN(r) {
					gross += current[t] * r
				}
			}
			day.Gross = gross
			day.Net = gross
			if tradeDay {
				cost := turnover * costRate
				day.Net = gross - cost
				day.Turnover = turnover
				res.TotalCost += cost
			}
		}
		res.Days = append(res.Days, day)
	}

	if n := res.Audit(); n > 0 {
		return nil, walkforward.Causality(
			"simulation audit failed: %d day(s) with costs or turnover outside rebalance trade days", n)
	}
	logging.Infof(ctx, "simulated %d days, %d rebalances, total cost %.4f",
		len(res.Days), res.NumRebalances, res.TotalCost)
	return res, nil
}

// Audit re-checks the day records for trade activity outside the recorded
// rebalance trade days and returns the violation count.
func (r *Result) Audit() int {
	violations := 0
	for i, d := range r.Days {
		_, tradeDay := r.TurnoverByDate[d.Date]
		if d.Turnover != 0 && !tradeDay {
			violations++
			continue
		}
		if d.Net != d.Gross && !tradeDay {
			violations++
			continue
		}
		if i == 0 && (d.Gross != 0 || d.Net != 0) {
			violations++
		}
	}
	return violations
}
