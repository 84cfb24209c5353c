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

package metrics

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/panel"
)

// Benchmarks computes the comparison strategies over the same out-of-sample
// dates, cost model and rebalance cadence as the strategy:
//   - equal_weight_bh: equal weight across all surviving instruments;
//   - reference_bh: buy-and-hold of the reference instrument, when it survived
//     panel filtering;
//   - random_baseline: seeded random top-k picks re-drawn on the rebalance
//     cadence, net of costs.
//
// Reads go through a dedicated clock so the same gating applies as everywhere
// else.
func Benchmarks(ctx context.Context, p *panel.Panel, cfg *config.Backtest,
	oosDates []db.Date) (map[string]Metrics, error) {
	if len(oosDates) == 0 {
		return nil, walkforward.InsufficientData("no out-of-sample dates for benchmarks")
	}
	clock := walkforward.NewClock()
	if err := clock.Init(oosDates); err != nil {
		return nil, errors.Annotate(err, "bad benchmark calendar")
	}
	schedule, err := walkforward.RebalanceSchedule(oosDates, cfg.Rebalance)
	if err != nil {
		return nil, err
	}
	repick := make(map[db.Date]bool, len(schedule))
	for _, d := range schedule {
		repick[d] = true
	}

	tickers := p.Tickers()
	n := len(tickers)
	ewWeight := 1.0 / float64(n)
	costRate := (cfg.CostBps + cfg.SlippageBps) / 10000.0

	topK := cfg.TopK
	withRandom := topK <= n
	rng := rand.New(rand.NewSource(int64(cfg.Seed + 1)))

	hasRef := false
	for _, t := range tickers {
		if t == cfg.ReferenceTicker {
			hasRef = true
			break
		}
	}

	ewRets := make([]float64, 0, len(oosDates))
	refRets := make([]float64, 0, len(oosDates))
	randRets := make([]float64, 0, len(oosDates))
	var picks []string

	for i, date := range oosDates {
		if err := clock.AdvanceTo(date); err != nil {
			return nil, errors.Annotate(err, "benchmark clock failed at %s", date)
		}

		var turnover float64
		if withRandom && repick[date] {
			old := make(map[string]bool, len(picks))
			for _, t := range picks {
				old[t] = true
			}
			perm := rng.Perm(n)
			picks = make([]string, 0, topK)
			for _, j := range perm[:topK] {
				picks = append(picks, tickers[j])
			}
			if len(old) > 0 {
				w := 1.0 / float64(len(picks))
				union := make(map[string]bool, len(old)+len(picks))
				for t := range old {
					union[t] = true
				}
				newSet := make(map[string]bool, len(picks))
				for _, t := range picks {
					newSet[t] = true
					union[t] = true
				}
				for t := range union {
					var oldW, newW float64
					if old[t] {
						oldW = w
					}
					if newSet[t] {
						newW = w
					}
					turnover += math.Abs(newW - oldW)
				}
			}
		}

		if i == 0 {
			ewRets = append(ewRets, 0)
			randRets = append(randRets, 0)
			if hasRef {
				refRets = append(refRets, 0)
			}
			continue
		}

		var ewDay float64
		for _, t := range tickers {
			r, err := p.DailyReturn(clock, t, date)
			if err != nil {
				return nil, err
			}
			if !math.IsNaN(r) {
				ewDay += ewWeight * r
			}
		}
		ewRets = append(ewRets, ewDay)

		if hasRef {
			r, err := p.DailyReturn(clock, cfg.ReferenceTicker, date)
			if err != nil {
				return nil, err
			}
			if math.IsNaN(r) {
				r = 0
			}
			refRets = append(refRets, r)
		}

		if withRandom {
			var day float64
			if len(picks) > 0 {
				w := 1.0 / float64(len(picks))
				for _, t := range picks {
					r, err := p.DailyReturn(clock, t, date)
					if err != nil {
						return nil, err
					}
					if !math.IsNaN(r) {
						day += w * r
					}
				}
			}
			randRets = append(randRets, day-turnover*costRate)
		}
	}

	out := make(map[string]Metrics, 3)
	out["equal_weight_bh"] = Compute(ewRets,
		fmt.Sprintf("Equal-Weight B&H (%d-stock, %s reb.)", n, cfg.Rebalance))
	if hasRef {
		out["reference_bh"] = Compute(refRets,
			fmt.Sprintf("%s Buy & Hold", cfg.ReferenceTicker))
	} else {
		logging.Warningf(ctx, "reference ticker %s not in panel, skipping its benchmark",
			cfg.ReferenceTicker)
	}
	if withRandom {
		out["random_baseline"] = Compute(randRets,
			fmt.Sprintf("Random %d-pick (%s, net)", topK, cfg.Rebalance))
	}
	return out, nil
}
