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

package portfolio

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

func sig(ticker string, pred float64) walkforward.Signal {
	return walkforward.Signal{Ticker: ticker, PredictedReturn: pred}
}

func TestConstruct(t *testing.T) {
	t.Parallel()

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Error))

	Convey("Portfolio construction", t, func() {
		tmpdir, tmpdirErr := os.MkdirTemp("", "test_construct")
		So(tmpdirErr, ShouldBeNil)
		defer os.RemoveAll(tmpdir)

		n := 400
		dates := testDates(n)
		for i, ticker := range []string{"AAA", "BBB", "CCC"} {
			So(writeCSV(tmpdir, ticker, dates, testCloses(n, float64(i))), ShouldBeNil)
		}
		p, err := panel.Load(ctx, testConfig(`{"universe": "AAA,BBB,CCC"}`),
			panel.NewCSVSource(tmpdir))
		So(err, ShouldBeNil)

		clock := walkforward.NewClock()
		So(clock.Init(p.Dates()), ShouldBeNil)
		current := p.Dates()[350]
		So(clock.AdvanceTo(current), ShouldBeNil)

		signals := []walkforward.Signal{
			sig("AAA", 0.05), sig("BBB", 0.03), sig("CCC", -0.02),
		}

		Convey("equal weighting splits capital across selections", func() {
			cfg := testConfig(`{"universe": "AAA,BBB,CCC", "top k": 2, "max weight": 0.6}`)
			w, err := Construct(signals, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(w, ShouldResemble, walkforward.Weights{"AAA": 0.5, "BBB": 0.5})
		})

		Convey("bottom k adds shorts", func() {
			cfg := testConfig(
				`{"universe": "AAA,BBB,CCC", "top k": 1, "bottom k": 1, "max weight": 0.6}`)
			w, err := Construct(signals, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(w, ShouldResemble, walkforward.Weights{"AAA": 0.5, "CCC": -0.5})
		})

		Convey("shorts colliding with longs are excluded", func() {
			cfg := testConfig(
				`{"universe": "AAA,BBB,CCC", "top k": 3, "bottom k": 1, "max weight": 0.6}`)
			w, err := Construct(signals, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(len(w), ShouldEqual, 3)
			So(w["CCC"], ShouldAlmostEqual, 1.0/3)
		})

		Convey("ties break deterministically by ticker", func() {
			tied := []walkforward.Signal{
				sig("CCC", 0.01), sig("AAA", 0.01), sig("BBB", 0.01),
			}
			cfg := testConfig(`{"universe": "AAA,BBB,CCC", "top k": 2, "max weight": 0.6}`)
			w, err := Construct(tied, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(w.Tickers(), ShouldResemble, []string{"AAA", "BBB"})
		})

		Convey("empty signals yield empty weights", func() {
			cfg := testConfig(`{"universe": "AAA,BBB,CCC"}`)
			w, err := Construct(nil, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(len(w), ShouldEqual, 0)
		})

		Convey("individual weights are clamped to max weight", func() {
			cfg := testConfig(`{"universe": "AAA,BBB,CCC", "top k": 2}`) // max weight 0.15
			w, err := Construct(signals, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(w["AAA"], ShouldAlmostEqual, 0.15)
			So(w["BBB"], ShouldAlmostEqual, 0.15)
		})

		Convey("gross exposure is rescaled to max leverage", func() {
			cfg := testConfig(
				`{"universe": "AAA,BBB,CCC", "top k": 2, "max weight": 1.0, "max leverage": 0.5}`)
			w, err := Construct(signals, p, cfg, current, clock)
			So(err, ShouldBeNil)
			So(w["AAA"], ShouldAlmostEqual, 0.25)
			So(w["BBB"], ShouldAlmostEqual, 0.25)
			So(w.Gross(), ShouldAlmostEqual, 0.5)
		})

		Convey("vol-target weighting", func() {
			cfg := testConfig(`{"universe": "AAA,BBB,CCC", "top k": 2,
				"weighting": "vol_target", "max weight": 10, "max leverage": 10}`)

			Convey("hits the annualized vol target", func() {
				w, err := Construct(signals, p, cfg, current, clock)
				So(err, ShouldBeNil)
				var portVar float64
				for _, ticker := range w.Tickers() {
					v, err := p.TrailingStd(clock, ticker, cfg.VolWindow, current)
					So(err, ShouldBeNil)
					portVar += w[ticker] * w[ticker] * v * v * 252
				}
				So(math.Sqrt(portVar), ShouldAlmostEqual, cfg.TargetVol, 1e-9)
			})

			Convey("lower-vol instruments get larger weights", func() {
				w, err := Construct(signals, p, cfg, current, clock)
				So(err, ShouldBeNil)
				vA, _ := p.TrailingStd(clock, "AAA", cfg.VolWindow, current)
				vB, _ := p.TrailingStd(clock, "BBB", cfg.VolWindow, current)
				if vA < vB {
					So(w["AAA"], ShouldBeGreaterThan, w["BBB"])
				} else {
					So(w["BBB"], ShouldBeGreaterThanOrEqualTo, w["AAA"])
				}
			})

			Convey("falls back to equal weighting without enough history", func() {
				early := walkforward.NewClock()
				So(early.Init(p.Dates()), ShouldBeNil)
				first := p.Dates()[10]
				So(early.AdvanceTo(first), ShouldBeNil)
				w, err := Construct(signals, p, cfg, first, early)
				So(err, ShouldBeNil)
				So(w, ShouldResemble, walkforward.Weights{"AAA": 0.5, "BBB": 0.5})
			})
		})
	})
}
