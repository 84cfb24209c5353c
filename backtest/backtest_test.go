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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stockparfait/logging"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/testutil"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/panel"

	. "github.com/smartystreets/goconvey/convey"
)

func testConfig(js string) *config.Backtest {
	var c config.Backtest
	if err := c.InitMessage(testutil.JSON(js)); err != nil {
		panic(err)
	}
	return &c
}

func testDates(n int) []db.Date {
	dates := make([]db.Date, n)
	for i := 0; i < n; i++ {
		dates[i] = db.NewDate(uint16(2015+i/240), uint8((i%240)/20+1), uint8(i%20+1))
	}
	return dates
}

func testCloses(n int, phase float64) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = 100 + float64(i)*0.05 + 2*math.Sin(float64(i)*0.7+phase)
	}
	return out
}

func TestRun(t *testing.T) {
	t.Parallel()

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Error))

	Convey("Full walk-forward run over a price DB", t, func() {
		tmpdir, tmpdirErr := os.MkdirTemp("", "test_backtest")
		So(tmpdirErr, ShouldBeNil)
		defer os.RemoveAll(tmpdir)

		dbName := "testdb"
		n := 700
		dates := testDates(n)
		universe := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF", "GGG", "HHH", "SPY"}

		tickers := make(map[string]db.TickerRow, len(universe))
		for _, ticker := range universe {
			tickers[ticker] = db.TickerRow{}
		}
		w := db.NewWriter(tmpdir, dbName)
		So(w.WriteTickers(tickers), ShouldBeNil)
		for i, ticker := range universe {
			closes := testCloses(n, float64(i)*0.9)
			prices := make([]db.PriceRow, n)
			for j, d := range dates {
				c := float32(closes[j])
				prices[j] = db.TestPrice(d, c, c, c, 1000000.0, true)
			}
			So(w.WritePrices(ticker, prices), ShouldBeNil)
		}
		So(w.WriteMetadata(w.Metadata), ShouldBeNil)

		src := panel.NewDBSource(db.NewReader(tmpdir, dbName))
		chartPath := filepath.Join(tmpdir, "chart.json")
		csvPath := filepath.Join(tmpdir, "signals.csv")
		cfg := testConfig(fmt.Sprintf(`{
			"universe": "AAA,BBB,CCC,DDD,EEE,FFF,GGG,HHH,SPY",
			"top k": 4,
			"chart path": %q,
			"signals csv": %q}`, chartPath, csvPath))

		res, err := Run(ctx, cfg, src)
		So(err, ShouldBeNil)

		Convey("config section reflects the resolved run", func() {
			So(len(res.Config.Hash), ShouldEqual, 16)
			So(res.Config.TickersRequested, ShouldEqual, 9)
			So(res.Config.TickersLoaded, ShouldEqual, 9)
			So(len(res.Config.TickersMissing), ShouldEqual, 0)
			So(res.Config.StartDate, ShouldEqual, dates[warmupDays].String())
			So(res.Config.EndDate, ShouldEqual, dates[n-1].String())
		})

		Convey("strategy trades only in the out-of-sample window", func() {
			So(res.Strategy.Net.NDays, ShouldEqual, n-warmupDays)
			So(res.Strategy.Gross.NDays, ShouldEqual, n-warmupDays)
			So(res.Strategy.NumRebalances, ShouldBeGreaterThan, 50)
			So(res.Strategy.AvgHoldings, ShouldBeGreaterThan, 0)
			So(res.Strategy.TotalCost, ShouldBeGreaterThan, 0)
			So(res.Strategy.HitRate, ShouldBeBetweenOrEqual, 0, 1)
			So(res.Strategy.Net.EquityCurve, ShouldBeNil)
		})

		Convey("training diagnostics cover the schedule", func() {
			So(res.TrainInfo.RebalanceCount, ShouldBeGreaterThan, 50)
			So(res.TrainInfo.RefitCount, ShouldBeGreaterThan, 0)
			So(res.TrainInfo.AvgTrainRows, ShouldBeGreaterThan, 0)
			So(res.TrainInfo.ModelKind, ShouldEqual, "linear")
		})

		Convey("the DB schema has no high/low, so range features drop out", func() {
			So(len(res.FeatureCols), ShouldEqual, 12)
			for _, col := range res.FeatureCols {
				So(col, ShouldNotStartWith, "dist_52w")
			}
		})

		Convey("benchmarks are reported without their curves", func() {
			So(len(res.Benchmarks), ShouldEqual, 3)
			So(res.Benchmarks["reference_bh"].Label, ShouldEqual, "SPY Buy & Hold")
			for _, m := range res.Benchmarks {
				So(m.NDays, ShouldEqual, n-warmupDays)
				So(m.EquityCurve, ShouldBeNil)
			}
		})

		Convey("subperiod metrics split the OOS window by year", func() {
			So(len(res.Subperiod), ShouldBeGreaterThanOrEqualTo, 2)
			total := 0
			for _, m := range res.Subperiod {
				total += m.NDays
			}
			So(total, ShouldEqual, n-warmupDays)
		})

		Convey("no lookahead violations are recorded", func() {
			for _, warning := range res.Warnings {
				So(warning, ShouldNotContainSubstring, "lookahead")
			}
		})

		Convey("chart and signals CSV are written", func() {
			So(res.ChartPath, ShouldNotBeNil)
			So(*res.ChartPath, ShouldEqual, chartPath)
			So(testutil.FileExists(chartPath), ShouldBeTrue)

			data, err := os.ReadFile(csvPath)
			So(err, ShouldBeNil)
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			So(lines[0], ShouldEqual, "date,ticker,predicted_return,actual_return")
			So(len(lines), ShouldBeGreaterThan, 100)
		})

		Convey("the run is deterministic", func() {
			again, err := Run(ctx, cfg, src)
			So(err, ShouldBeNil)
			So(again.Strategy.Net, ShouldResemble, res.Strategy.Net)
			So(again.Benchmarks["random_baseline"], ShouldResemble,
				res.Benchmarks["random_baseline"])
		})

		Convey("a short calendar fails with a clear error", func() {
			short := testConfig(`{"universe": "AAA,BBB,CCC,DDD,EEE,FFF,GGG,HHH,SPY",
				"days": 310}`)
			_, err := Run(ctx, short, src)
			So(err, ShouldNotBeNil)
		})
	})
}
