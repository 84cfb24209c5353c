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

// Package portfolio turns cross-sectional signals into target position
// weights: rank selection of longs and shorts, equal or vol-targeted sizing,
// and position/leverage caps.
package portfolio

import (
	"math"
	"sort"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/panel"
)

// minVol floors trailing volatility so inverse-vol weights stay finite.
const minVol = 1e-6

// tradingDays annualizes daily volatility.
const tradingDays = 252

// Construct builds the target weights from the signals of one rebalance date.
// Signals are ranked by predicted return descending with ticker as the
// deterministic tie-break; the top TopK become longs, the bottom BottomK
// (minus any overlap with the longs) become shorts. An empty signal set yields
// empty weights, which the simulator treats as all-cash.
func Construct(signals []walkforward.Signal, p *panel.Panel, cfg *config.Backtest,
	current db.Date, clock *walkforward.Clock) (walkforward.Weights, error) {
	if len(signals) == 0 {
		return walkforward.Weights{}, nil
	}
	ranked := append([]walkforward.Signal{}, signals...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].PredictedReturn != ranked[j].PredictedReturn {
			return ranked[i].PredictedReturn > ranked[j].PredictedReturn
		}
		return ranked[i].Ticker < ranked[j].Ticker
	})

	topK := cfg.TopK
	if topK > len(ranked) {
		topK = len(ranked)
	}
	var longs []string
	isLong := make(map[string]bool, topK)
	for _, s := range ranked[:topK] {
		longs = append(longs, s.Ticker)
		isLong[s.Ticker] = true
	}
	var shorts []string
	if cfg.BottomK > 0 {
		bottomK := cfg.BottomK
		if bottomK > len(ranked) {
			bottomK = len(ranked)
		}
		for _, s := range ranked[len(ranked)-bottomK:] {
			if !isLong[s.Ticker] {
				shorts = append(shorts, s.Ticker)
			}
		}
	}
	if len(longs)+len(shorts) == 0 {
		return walkforward.Weights{}, nil
	}

	var weights walkforward.Weights
	var err error
	switch cfg.Weighting {
	case "equal":
		weights = equalWeights(longs, shorts)
	case "vol_target":
		weights, err = volTargetWeights(longs, shorts, p, cfg, current, clock)
		if err != nil {
			return nil, errors.Annotate(err, "vol-target weighting at %s", current)
		}
	default:
		return nil, errors.Reason("unknown weighting scheme '%s'", cfg.Weighting)
	}

	capWeights(weights, cfg.MaxWeight, cfg.MaxLeverage)
	return weights, nil
}

func equalWeights(longs, shorts []string) walkforward.Weights {
	n := float64(len(longs) + len(shorts))
	w := make(walkforward.Weights, len(longs)+len(shorts))
	for _, t := range longs {
		w[t] = 1 / n
	}
	for _, t := range shorts {
		w[t] = -1 / n
	}
	return w
}

// volTargetWeights assigns inverse-volatility weights scaled so the estimated
// annualized portfolio volatility sqrt(sum w^2 (vol*sqrt(252))^2) hits the
// target. With less trailing history than the vol window it falls back to
// equal weighting.
func volTargetWeights(longs, shorts []string, p *panel.Panel, cfg *config.Backtest,
	current db.Date, clock *walkforward.Clock) (walkforward.Weights, error) {
	idx, ok := p.DateIndex(current)
	if !ok || idx < cfg.VolWindow {
		return equalWeights(longs, shorts), nil
	}
	selected := append(append([]string{}, longs...), shorts...)
	vols := make(map[string]float64, len(selected))
	var totalInvVol float64
	for _, t := range selected {
		v, err := p.TrailingStd(clock, t, cfg.VolWindow, current)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || v <= 0 {
			v = minVol
		}
		vols[t] = v
		totalInvVol += 1 / v
	}

	w := make(walkforward.Weights, len(selected))
	for _, t := range longs {
		w[t] = (1 / vols[t]) / totalInvVol
	}
	for _, t := range shorts {
		w[t] = -(1 / vols[t]) / totalInvVol
	}

	var portVar float64
	for _, t := range selected {
		annVol := vols[t] * math.Sqrt(tradingDays)
		portVar += w[t] * w[t] * annVol * annVol
	}
	portVol := minVol
	if portVar > 0 {
		portVol = math.Sqrt(portVar)
	}
	scale := cfg.TargetVol / portVol
	for _, t := range w.Tickers() {
		w[t] *= scale
	}
	return w, nil
}

// capWeights clamps single positions to maxWeight, then rescales uniformly
// when gross exposure exceeds maxLeverage. Caps run after sizing, so a
// vol-target allocation may end up below its target.
func capWeights(w walkforward.Weights, maxWeight, maxLeverage float64) {
	for _, t := range w.Tickers() {
		if w[t] > maxWeight {
			w[t] = maxWeight
		}
		if w[t] < -maxWeight {
			w[t] = -maxWeight
		}
	}
	if gross := w.Gross(); gross > maxLeverage && gross > 0 {
		scale := maxLeverage / gross
		for _, t := range w.Tickers() {
			w[t] *= scale
		}
	}
}
