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

package backtest

import (
	"context"
	"encoding/json"
	"os"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/stockparfait/plot"
	"github.com/stockparfait/stockparfait/stats"
)

type equityCurve struct {
	label  string
	values []float64
}

// renderChart plots the equity curves on a shared canvas and writes it as a
// JSON artifact together with the one-line config summary. Failures here are
// reported to the caller but never abort a run.
func renderChart(ctx context.Context, path string, dates []db.Date,
	curves []equityCurve, summary string) error {
	canvas := plot.NewCanvas()
	ctx = plot.Use(ctx, canvas)
	if _, err := canvas.EnsureGraph(plot.KindSeries, "equity", "backtest"); err != nil {
		return errors.Annotate(err, "failed to add equity graph")
	}
	for _, c := range curves {
		if len(c.values) != len(dates) {
			return errors.Reason("curve '%s' has %d points for %d dates",
				c.label, len(c.values), len(dates))
		}
		ts := stats.NewTimeseries(dates, c.values)
		plt, err := plot.NewSeriesPlot(ts)
		if err != nil {
			return errors.Annotate(err, "failed to create plot for '%s'", c.label)
		}
		plt = plt.SetYLabel("equity").SetLegend(c.label)
		if err := plot.Add(ctx, plt, "equity"); err != nil {
			return errors.Annotate(err, "failed to plot '%s'", c.label)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Annotate(err, "failed to create chart file '%s'", path)
	}
	defer f.Close()

	artifact := struct {
		Summary string       `json:"summary"`
		Canvas  *plot.Canvas `json:"canvas"`
	}{Summary: summary, Canvas: canvas}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&artifact); err != nil {
		return errors.Annotate(err, "failed to write chart file '%s'", path)
	}
	return nil
}
