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

package panel

import (
	"math"

	"github.com/stockparfait/walkforward"
)

// allFeatureNames is the canonical feature order. Volume- and range-based
// features drop out per instrument when the source has no such columns.
var allFeatureNames = []string{
	"mom_5d", "mom_20d", "mom_60d", "mom_252d",
	"vol_20d", "vol_60d", "rel_vol_20d",
	"rsi_14", "bb_pctb", "dist_52w_high", "dist_52w_low",
	"sma_20_50", "sma_50_200", "mean_rev_20d",
}

// Rolling helpers below follow the usual full-window convention: the value at
// index i summarizes xs[i-w+1 .. i], and any NaN in the window yields NaN.
// All windows end at the current index, so no future data leaks in.

func rollMean(xs []float64, w int) []float64 {
	out := nans(len(xs))
	for i := w - 1; i < len(xs); i++ {
		var sum float64
		ok := true
		for j := i - w + 1; j <= i; j++ {
			if math.IsNaN(xs[j]) {
				ok = false
				break
			}
			sum += xs[j]
		}
		if ok {
			out[i] = sum / float64(w)
		}
	}
	return out
}

// rollStd is the ddof=1 rolling standard deviation.
func rollStd(xs []float64, w int) []float64 {
	out := nans(len(xs))
	for i := w - 1; i < len(xs); i++ {
		var sum float64
		ok := true
		for j := i - w + 1; j <= i; j++ {
			if math.IsNaN(xs[j]) {
				ok = false
				break
			}
			sum += xs[j]
		}
		if !ok {
			continue
		}
		mean := sum / float64(w)
		var ss float64
		for j := i - w + 1; j <= i; j++ {
			d := xs[j] - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(w-1))
	}
	return out
}

func rollMax(xs []float64, w int) []float64 {
	out := nans(len(xs))
	for i := w - 1; i < len(xs); i++ {
		m := math.Inf(-1)
		ok := true
		for j := i - w + 1; j <= i; j++ {
			if math.IsNaN(xs[j]) {
				ok = false
				break
			}
			if xs[j] > m {
				m = xs[j]
			}
		}
		if ok {
			out[i] = m
		}
	}
	return out
}

func rollMin(xs []float64, w int) []float64 {
	out := nans(len(xs))
	for i := w - 1; i < len(xs); i++ {
		m := math.Inf(1)
		ok := true
		for j := i - w + 1; j <= i; j++ {
			if math.IsNaN(xs[j]) {
				ok = false
				break
			}
			if xs[j] < m {
				m = xs[j]
			}
		}
		if ok {
			out[i] = m
		}
	}
	return out
}

func nans(n int) []float64 {
	out := make([]float64, n)
	nan := math.NaN()
	for i := range out {
		out[i] = nan
	}
	return out
}

func anyFinite(xs []float64) bool {
	for _, x := range xs {
		if !math.IsNaN(x) {
			return true
		}
	}
	return false
}

// computeFeatures builds the per-instrument feature columns and the forward
// log-return label. It returns one row per bar (warmup rows carry NaNs and are
// filtered when stacking) and the list of feature names this instrument
// supports.
func computeFeatures(ticker string, bars []walkforward.Bar, forwardDays int) ([]FeatureRow, []string) {
	n := len(bars)
	close := make([]float64, n)
	volume := make([]float64, n)
	high := make([]float64, n)
	low := make([]float64, n)
	for i, b := range bars {
		close[i] = b.Close
		high[i] = b.High
		low[i] = b.Low
		// Zero volume means no trade information, same as missing.
		if b.Volume == 0 {
			volume[i] = math.NaN()
		} else {
			volume[i] = b.Volume
		}
	}
	hasVolume := anyFinite(volume)
	hasRange := anyFinite(high) && anyFinite(low)

	ret1d := pctChange(close)

	cols := make(map[string][]float64)

	for _, p := range []struct {
		name   string
		period int
	}{{"mom_5d", 5}, {"mom_20d", 20}, {"mom_60d", 60}, {"mom_252d", 252}} {
		mom := nans(n)
		for i := p.period; i < n; i++ {
			if !math.IsNaN(close[i]) && !math.IsNaN(close[i-p.period]) && close[i-p.period] != 0 {
				mom[i] = close[i]/close[i-p.period] - 1
			}
		}
		cols[p.name] = mom
	}

	cols["vol_20d"] = rollStd(ret1d, 20)
	cols["vol_60d"] = rollStd(ret1d, 60)

	if hasVolume {
		volMean := rollMean(volume, 20)
		rel := nans(n)
		for i := range rel {
			if !math.IsNaN(volume[i]) && !math.IsNaN(volMean[i]) && volMean[i] != 0 {
				rel[i] = volume[i] / volMean[i]
			}
		}
		cols["rel_vol_20d"] = rel
	}

	cols["rsi_14"] = rsi(close, 14)

	sma20 := rollMean(close, 20)
	std20 := rollStd(close, 20)
	bb := nans(n)
	for i := range bb {
		if math.IsNaN(sma20[i]) || math.IsNaN(std20[i]) || std20[i] == 0 {
			continue
		}
		bb[i] = (close[i] - (sma20[i] - 2*std20[i])) / (4 * std20[i])
	}
	cols["bb_pctb"] = bb

	if hasRange {
		hi252 := rollMax(high, 252)
		lo252 := rollMin(low, 252)
		dHigh := nans(n)
		dLow := nans(n)
		for i := range dHigh {
			if math.IsNaN(hi252[i]) || math.IsNaN(lo252[i]) || math.IsNaN(close[i]) {
				continue
			}
			rng := hi252[i] - lo252[i]
			if rng == 0 {
				continue
			}
			dHigh[i] = (close[i] - hi252[i]) / rng
			dLow[i] = (close[i] - lo252[i]) / rng
		}
		cols["dist_52w_high"] = dHigh
		cols["dist_52w_low"] = dLow
	}

	sma50 := rollMean(close, 50)
	sma200 := rollMean(close, 200)
	cols["sma_20_50"] = ratioMinusOne(sma20, sma50)
	cols["sma_50_200"] = ratioMinusOne(sma50, sma200)
	cols["mean_rev_20d"] = ratioMinusOne(close, sma20)

	var available []string
	for _, name := range allFeatureNames {
		if _, ok := cols[name]; ok {
			available = append(available, name)
		}
	}

	rows := make([]FeatureRow, 0, n)
	for i := 0; i < n; i++ {
		label := math.NaN()
		if i+forwardDays < n && !math.IsNaN(close[i]) && close[i] > 0 &&
			!math.IsNaN(close[i+forwardDays]) && close[i+forwardDays] > 0 {
			label = math.Log(close[i+forwardDays] / close[i])
		}
		values := make([]float64, len(available))
		for j, name := range available {
			values[j] = cols[name][i]
		}
		rows = append(rows, FeatureRow{
			Date:   bars[i].Date,
			Ticker: ticker,
			Values: values,
			Label:  label,
		})
	}
	return rows, available
}

func ratioMinusOne(num, den []float64) []float64 {
	out := nans(len(num))
	for i := range out {
		if !math.IsNaN(num[i]) && !math.IsNaN(den[i]) && den[i] != 0 {
			out[i] = num[i]/den[i] - 1
		}
	}
	return out
}

// rsi is the simple-moving-average variant of the relative strength index.
// Zero average loss yields NaN rather than a pegged 100.
func rsi(close []float64, period int) []float64 {
	n := len(close)
	gains := nans(n)
	losses := nans(n)
	for i := 1; i < n; i++ {
		if math.IsNaN(close[i]) || math.IsNaN(close[i-1]) {
			continue
		}
		d := close[i] - close[i-1]
		if d > 0 {
			gains[i] = d
			losses[i] = 0
		} else {
			gains[i] = 0
			losses[i] = -d
		}
	}
	avgGain := rollMean(gains, period)
	avgLoss := rollMean(losses, period)
	out := nans(n)
	for i := range out {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) || avgLoss[i] == 0 {
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}
