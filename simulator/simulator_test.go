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

package simulator

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
	"github.com/stockparfait/walkforward"
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

func writeCSV(dir, ticker string, dates []db.Date, closes []float64) error {
	var sb strings.Builder
	sb.WriteString("Date,Adj Close,High,Low,Volume\n")
	for i, d := range dates {
		c := closes[i]
		sb.WriteString(fmt.Sprintf("%s,%.17g,%.17g,%.17g,%d\n",
			d, c, c*1.02, c*0.98, 1000000))
	}
	return os.WriteFile(filepath.Join(dir, ticker+".csv"), []byte(sb.String()), 0644)
}

func TestSimulator(t *testing.T) {
	t.Parallel()

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Error))

	Convey("Execution simulation", t, func() {
		tmpdir, tmpdirErr := os.MkdirTemp("", "test_simulator")
		So(tmpdirErr, ShouldBeNil)
		defer os.RemoveAll(tmpdir)

		n := 400
		dates := testDates(n)
		closesA := testCloses(n, 0)
		closesB := testCloses(n, 1)
		So(writeCSV(tmpdir, "AAA", dates, closesA), ShouldBeNil)
		So(writeCSV(tmpdir, "BBB", dates, closesB), ShouldBeNil)
		So(writeCSV(tmpdir, "CCC", dates, testCloses(n, 2)), ShouldBeNil)

		cfg := testConfig(
			`{"universe": "AAA,BBB,CCC", "top k": 2, "max weight": 0.6, "cost bps": 10}`)
		p, err := panel.Load(ctx, cfg, panel.NewCSVSource(tmpdir))
		So(err, ShouldBeNil)

		oosDates := dates[340:]
		signalDate := dates[350] // index 10 of the OOS window
		signals := []walkforward.Signal{
			{Date: signalDate, Ticker: "AAA", PredictedReturn: 0.05},
			{Date: signalDate, Ticker: "BBB", PredictedReturn: 0.03},
			{Date: signalDate, Ticker: "CCC", PredictedReturn: -0.02},
		}

		Convey("signal at t trades at t+1", func() {
			res, err := Run(ctx, signals, p, cfg, oosDates)
			So(err, ShouldBeNil)
			So(len(res.Days), ShouldEqual, 60)

			Convey("no position on or before the signal date", func() {
				for i := 0; i <= 10; i++ {
					So(res.Days[i].Gross, ShouldEqual, 0)
					So(res.Days[i].Holdings, ShouldEqual, 0)
					So(res.Days[i].Turnover, ShouldEqual, 0)
				}
			})

			Convey("trade lands on the next day with turnover and cost", func() {
				day := res.Days[11]
				So(day.Date, ShouldResemble, dates[351])
				So(day.Holdings, ShouldEqual, 2)
				So(day.Turnover, ShouldAlmostEqual, 1.0)

				rA := closesA[351]/closesA[350] - 1
				rB := closesB[351]/closesB[350] - 1
				So(day.Gross, ShouldAlmostEqual, 0.5*rA+0.5*rB, 1e-10)
				So(day.Net, ShouldAlmostEqual, day.Gross-1.0*0.001, 1e-10)
			})

			Convey("turnover and costs only on the trade day", func() {
				for i, day := range res.Days {
					if i == 11 {
						continue
					}
					So(day.Turnover, ShouldEqual, 0)
					So(day.Net, ShouldEqual, day.Gross)
				}
				So(res.NumRebalances, ShouldEqual, 1)
				So(res.TotalCost, ShouldAlmostEqual, 0.001, 1e-12)
				So(res.Audit(), ShouldEqual, 0)
			})

			Convey("weights persist between rebalances", func() {
				last := res.Days[len(res.Days)-1]
				So(last.Holdings, ShouldEqual, 2)
			})

			Convey("accessors expose the daily series", func() {
				So(len(res.GrossReturns()), ShouldEqual, 60)
				So(len(res.NetReturns()), ShouldEqual, 60)
				So(res.Dates()[0], ShouldResemble, oosDates[0])
				So(res.AvgHoldings(), ShouldBeGreaterThan, 1.5)
			})
		})

		Convey("empty weights hold nothing without error", func() {
			none := []walkforward.Signal{}
			res, err := Run(ctx, none, p, cfg, oosDates)
			So(err, ShouldBeNil)
			So(res.NumRebalances, ShouldEqual, 0)
			for _, day := range res.Days {
				So(day.Gross, ShouldEqual, 0)
			}
		})

		Convey("empty calendar is fatal", func() {
			_, err := Run(ctx, signals, p, cfg, nil)
			So(walkforward.KindOf(err), ShouldEqual, walkforward.KindInsufficientData)
		})
	})
}
