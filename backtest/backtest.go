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

// Package backtest orchestrates one full walk-forward run: panel load, signal
// generation on the full calendar, out-of-sample simulation on a fresh clock,
// then metrics, benchmarks and the structured result.
package backtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/walkforward"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/metrics"
	"github.com/stockparfait/walkforward/panel"
	"github.com/stockparfait/walkforward/signal"
	"github.com/stockparfait/walkforward/simulator"
)

// warmupDays precede the first rebalance: enough history for the longest
// rolling window (252 + 50 for its SMA base) and the minimum training set.
const warmupDays = 302

// minScheduleDates is the minimum number of scheduled rebalance dates.
const minScheduleDates = 5

// sharpeWarnThreshold flags weak out-of-sample performance.
const sharpeWarnThreshold = 0.5

// costDragWarnThreshold flags total costs above this fraction of capital.
const costDragWarnThreshold = 0.05

// ConfigReport echoes the resolved run configuration.
type ConfigReport struct {
	Hash             string            `json:"hash"`
	Tickers          []string          `json:"tickers"`
	TickersRequested int               `json:"tickers_requested"`
	TickersLoaded    int               `json:"tickers_loaded"`
	TickersMissing   map[string]string `json:"tickers_missing"`
	StartDate        string            `json:"start_date"`
	EndDate          string            `json:"end_date"`
	Settings         *config.Backtest  `json:"settings"`
}

// StrategyReport is the strategy section of the result.
type StrategyReport struct {
	Gross          metrics.Metrics `json:"gross"`
	Net            metrics.Metrics `json:"net"`
	HitRate        float64         `json:"hit_rate"`
	AvgHoldings    float64         `json:"avg_holdings"`
	TurnoverAnnual float64         `json:"turnover_annual"`
	TotalCost      float64         `json:"total_cost"`
	NumRebalances  int             `json:"num_rebalances"`
}

// Result is the single structured output of a run.
type Result struct {
	Config      ConfigReport               `json:"config"`
	Strategy    StrategyReport             `json:"strategy"`
	Benchmarks  map[string]metrics.Metrics `json:"benchmarks"`
	PanelStats  panel.Stats                `json:"panel_stats"`
	Subperiod   map[string]metrics.Metrics `json:"subperiod"`
	TrainInfo   signal.Diagnostics         `json:"train_info"`
	FeatureCols []string                   `json:"feature_cols"`
	Warnings    []string                   `json:"warnings"`
	ChartPath   *string                    `json:"chart_path"`
}

// Run executes the full pipeline. Fatal conditions return an error; soft
// issues accumulate in Result.Warnings.
func Run(ctx context.Context, cfg *config.Backtest, src panel.PriceSource) (*Result, error) {
	requested, err := cfg.Tickers()
	if err != nil {
		return nil, err
	}

	p, err := panel.Load(ctx, cfg, src)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load data panel")
	}

	var warnings []string
	warnings = append(warnings, p.QualityNotes()...)

	// The effective config may shrink top k to the surviving universe.
	eff := *cfg
	if n := len(p.Tickers()); n < eff.TopK {
		warnings = append(warnings, fmt.Sprintf(
			"top_k auto-reduced from %d to %d surviving instruments", eff.TopK, n))
		eff.TopK = n
	}
	if eff.TopK <= 3 {
		warnings = append(warnings, fmt.Sprintf("top_k=%d is very concentrated", eff.TopK))
	}
	if len(requested) > 0 {
		missPct := float64(len(p.MissingReport())) / float64(len(requested)) * 100
		if missPct > 20 {
			warnings = append(warnings, fmt.Sprintf(
				"missing data rate: %.0f%% (%d/%d tickers)",
				missPct, len(p.MissingReport()), len(requested)))
		}
	}

	dates := p.Dates()
	if len(dates) <= warmupDays {
		return nil, walkforward.InsufficientData(
			"%d panel dates do not cover the %d-day warmup", len(dates), warmupDays)
	}
	schedule, err := walkforward.RebalanceSchedule(dates[warmupDays:], eff.Rebalance)
	if err != nil {
		return nil, err
	}
	if len(schedule) < minScheduleDates {
		return nil, walkforward.InsufficientData(
			"only %d rebalance dates after warmup, need >= %d; use a longer range or a faster cadence",
			len(schedule), minScheduleDates)
	}
	logging.Infof(ctx, "rebalance schedule: %d dates, cadence %s (%s to %s)",
		len(schedule), eff.Rebalance, schedule[0], schedule[len(schedule)-1])

	// Signal phase: clock over the full panel calendar.
	signalClock := walkforward.NewClock()
	if err := signalClock.Init(dates); err != nil {
		return nil, errors.Annotate(err, "bad panel calendar")
	}
	signals, diag, err := signal.Generate(ctx, signalClock, p, &eff, schedule)
	if err != nil {
		return nil, errors.Annotate(err, "signal generation failed")
	}

	// Execution phase: a fresh clock restricted to the out-of-sample dates.
	oosStart := schedule[0]
	var oosDates = dates
	for i, d := range dates {
		if !d.Before(oosStart) {
			oosDates = dates[i:]
			break
		}
	}
	sim, err := simulator.Run(ctx, signals, p, &eff, oosDates)
	if err != nil {
		return nil, errors.Annotate(err, "simulation failed")
	}

	grossM := metrics.Compute(sim.GrossReturns(), "Strategy (gross)")
	netM := metrics.Compute(sim.NetReturns(), "Strategy (net)")
	bms, err := metrics.Benchmarks(ctx, p, &eff, oosDates)
	if err != nil {
		return nil, errors.Annotate(err, "benchmark computation failed")
	}

	if netM.Sharpe < sharpeWarnThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"OOS Sharpe (%.2f) < %.1f", netM.Sharpe, sharpeWarnThreshold))
	}
	if grossM.Sharpe > 0 && netM.Sharpe < 0 {
		warnings = append(warnings,
			"performance collapses after costs (gross Sharpe > 0 but net Sharpe < 0)")
	}
	if sim.TotalCost > costDragWarnThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"cost drag %.1f%% of capital exceeds %.0f%%",
			sim.TotalCost*100, costDragWarnThreshold*100))
	}
	if n := sim.Audit(); n > 0 {
		warnings = append(warnings, fmt.Sprintf("%d lookahead violations recorded", n))
	}

	res := &Result{
		Config: ConfigReport{
			Hash:             cfg.Hash(),
			Tickers:          p.Tickers(),
			TickersRequested: len(requested),
			TickersLoaded:    len(p.Tickers()),
			TickersMissing:   p.MissingReport(),
			StartDate:        oosDates[0].String(),
			EndDate:          oosDates[len(oosDates)-1].String(),
			Settings:         &eff,
		},
		Strategy: StrategyReport{
			Gross:          withoutCurve(grossM),
			Net:            withoutCurve(netM),
			HitRate:        metrics.HitRate(signals),
			AvgHoldings:    sim.AvgHoldings(),
			TurnoverAnnual: metrics.AnnualizedTurnover(sim.TurnoverByDate, len(oosDates)),
			TotalCost:      sim.TotalCost,
			NumRebalances:  sim.NumRebalances,
		},
		PanelStats:  p.Stats(),
		Subperiod:   metrics.Subperiod(sim.NetReturns(), sim.Dates(), "Net"),
		TrainInfo:   diag,
		FeatureCols: p.FeatureNames(),
	}
	res.Benchmarks = make(map[string]metrics.Metrics, len(bms))

	if eff.ChartPath != "" {
		curves := []equityCurve{
			{label: grossM.Label, values: grossM.EquityCurve},
			{label: netM.Label, values: netM.EquityCurve},
		}
		for _, k := range sortedKeys(bms) {
			curves = append(curves, equityCurve{label: bms[k].Label, values: bms[k].EquityCurve})
		}
		summary := fmt.Sprintf(
			"%d tickers | fwd=%dd | reb=%s | top_k=%d | cost=%gbp | slip=%gbp | wt=%s | seed=%d",
			len(p.Tickers()), eff.ForwardDays, eff.Rebalance, eff.TopK,
			eff.CostBps, eff.SlippageBps, eff.Weighting, eff.Seed)
		if err := renderChart(ctx, eff.ChartPath, sim.Dates(), curves, summary); err != nil {
			logging.Warningf(ctx, "chart rendering failed: %s", err.Error())
		} else {
			path := eff.ChartPath
			res.ChartPath = &path
		}
	}
	for k, m := range bms {
		res.Benchmarks[k] = withoutCurve(m)
	}

	if eff.SignalsCSV != "" {
		if err := writeSignalsCSV(signals, eff.SignalsCSV); err != nil {
			logging.Warningf(ctx, "failed to write signals CSV: %s", err.Error())
			warnings = append(warnings, "signals CSV could not be written")
		}
	}

	res.Warnings = warnings
	return res, nil
}

func withoutCurve(m metrics.Metrics) metrics.Metrics {
	m.EquityCurve = nil
	return m
}

func sortedKeys(m map[string]metrics.Metrics) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
