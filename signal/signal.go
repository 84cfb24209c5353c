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

// Package signal implements walk-forward signal generation: a pooled
// cross-sectional model retrained on an expanding window of strictly past
// data, predicting forward returns at each rebalance date.
package signal

import (
	"context"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/panel"
	"gonum.org/v1/gonum/mat"
)

// minUsableRebalances is the minimum number of rebalance dates that must
// produce signals for the run to proceed.
const minUsableRebalances = 5

// ridgeAlpha is the fixed L2 strength of the linear model.
const ridgeAlpha = 1.0

// TrainingState carries the model and scaler between rebalance dates. The
// model is refit when the calendar month changes; in between, predictions
// reuse the prior fit, which is always older than the signal date.
type TrainingState struct {
	Model           Model
	Scaler          *Standardizer
	LastTrainPeriod string // YYYY-MM of the most recent refit
	TrainRows       int
}

// Fitted reports whether the state holds a usable model.
func (s *TrainingState) Fitted() bool { return s.Model != nil && s.Scaler != nil }

// Diagnostics summarizes the walk-forward training for the run report.
type Diagnostics struct {
	RebalanceCount int     `json:"rebalance_count"`
	RefitCount     int     `json:"refit_count"`
	SkippedDates   int     `json:"skipped_dates"`
	AvgTrainRows   float64 `json:"avg_train_size"`
	ModelKind      string  `json:"model_type"`
}

func newModel(kind string) (Model, error) {
	switch kind {
	case "linear":
		return NewRidge(ridgeAlpha), nil
	}
	return nil, errors.Reason("unsupported model kind '%s'", kind)
}

// monthKey is the YYYY-MM prefix of the date's canonical string form.
func monthKey(d db.Date) string { return d.String()[:7] }

// augment appends the one-hot instrument encoding to the feature values. The
// pooled model distinguishes instruments through these columns.
func augment(row panel.FeatureRow, tickerIdx map[string]int) []float64 {
	out := make([]float64, len(row.Values)+len(tickerIdx))
	copy(out, row.Values)
	if i, ok := tickerIdx[row.Ticker]; ok {
		out[len(row.Values)+i] = 1
	}
	return out
}

func refit(state *TrainingState, rows []panel.FeatureRow, tickerIdx map[string]int,
	kind string, maxTrainRows int) error {
	if maxTrainRows > 0 && len(rows) > maxTrainRows {
		rows = rows[len(rows)-maxTrainRows:]
	}
	d := len(rows[0].Values) + len(tickerIdx)
	X := mat.NewDense(len(rows), d, nil)
	y := make([]float64, len(rows))
	for i, row := range rows {
		X.SetRow(i, augment(row, tickerIdx))
		y[i] = row.Label
	}
	scaler := &Standardizer{}
	scaler.Fit(X)
	scaler.Transform(X)

	model, err := newModel(kind)
	if err != nil {
		return err
	}
	if err := model.Fit(X, y); err != nil {
		return errors.Annotate(err, "failed to fit %s model on %d rows", kind, len(rows))
	}
	state.Model = model
	state.Scaler = scaler
	state.TrainRows = len(rows)
	return nil
}

// Generate walks the rebalance dates in order, advancing the clock to each,
// and emits predictions from models trained strictly on earlier data. Dates
// with too little training data or no test rows are skipped; a model fit
// failure is fatal.
func Generate(ctx context.Context, clock *walkforward.Clock, p *panel.Panel,
	cfg *config.Backtest, rebalanceDates []db.Date) ([]walkforward.Signal, Diagnostics, error) {
	diag := Diagnostics{ModelKind: cfg.ModelKind}
	tickerIdx := make(map[string]int, len(p.Tickers()))
	for i, t := range p.Tickers() {
		tickerIdx[t] = i
	}

	var signals []walkforward.Signal
	var state TrainingState
	var totalTrainRows int

	for _, date := range rebalanceDates {
		// Clock errors already name both dates and keep their kind.
		if err := clock.AdvanceTo(date); err != nil {
			return nil, diag, err
		}
		trainRows, err := p.TrainingData(clock, date)
		if err != nil {
			return nil, diag, errors.Annotate(err, "training data at %s", date)
		}
		testRows, err := p.SignalData(clock, date)
		if err != nil {
			return nil, diag, errors.Annotate(err, "signal features at %s", date)
		}
		if len(trainRows) < cfg.MinTrainRows || len(testRows) == 0 {
			diag.SkippedDates++
			continue
		}

		if key := monthKey(date); !state.Fitted() || key != state.LastTrainPeriod {
			if err := refit(&state, trainRows, tickerIdx, cfg.ModelKind, cfg.MaxTrainRows); err != nil {
				return nil, diag, errors.Annotate(err, "refit at %s", date)
			}
			state.LastTrainPeriod = key
			diag.RefitCount++
			logging.Infof(ctx, "refit %s model at %s on %d rows",
				cfg.ModelKind, date, state.TrainRows)
		}

		for _, row := range testRows {
			x := augment(row, tickerIdx)
			state.Scaler.TransformRow(x)
			signals = append(signals, walkforward.Signal{
				Date:            date,
				Ticker:          row.Ticker,
				PredictedReturn: state.Model.Predict(x),
				ActualReturn:    row.Label,
			})
		}
		diag.RebalanceCount++
		totalTrainRows += state.TrainRows
	}

	if diag.RebalanceCount < minUsableRebalances {
		return nil, diag, walkforward.InsufficientData(
			"only %d usable rebalance dates (min %d): %d skipped for short training data",
			diag.RebalanceCount, minUsableRebalances, diag.SkippedDates)
	}
	diag.AvgTrainRows = float64(totalTrainRows) / float64(diag.RebalanceCount)
	logging.Infof(ctx, "generated %d signals at %d rebalance dates (%d refits, avg train %0.f rows)",
		len(signals), diag.RebalanceCount, diag.RefitCount, diag.AvgTrainRows)
	return signals, diag, nil
}
