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

package config

import (
	"testing"

	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	Convey("Backtest config", t, func() {
		Convey("defaults are filled in", func() {
			var c Backtest
			So(c.InitMessage(testutil.JSON(`{"universe": "tech"}`)), ShouldBeNil)
			So(c.ForwardDays, ShouldEqual, 20)
			So(c.Rebalance, ShouldEqual, "W")
			So(c.TopK, ShouldEqual, 10)
			So(c.Weighting, ShouldEqual, "equal")
			So(c.MaxWeight, ShouldAlmostEqual, 0.15)
			So(c.MaxLeverage, ShouldAlmostEqual, 1.0)
			So(c.CostBps, ShouldAlmostEqual, 10)
			So(c.VolWindow, ShouldEqual, 20)
			So(c.TargetVol, ShouldAlmostEqual, 0.15)
			So(c.ModelKind, ShouldEqual, "linear")
			So(c.MinTrainRows, ShouldEqual, 200)
			So(c.Seed, ShouldEqual, 42)
			So(c.ReferenceTicker, ShouldEqual, "SPY")
		})

		Convey("universe is required", func() {
			var c Backtest
			So(c.InitMessage(testutil.JSON(`{}`)), ShouldNotBeNil)
		})

		Convey("validation rejects bad values", func() {
			var c Backtest
			So(c.InitMessage(testutil.JSON(
				`{"universe": "tech", "forward days": 0}`)), ShouldNotBeNil)
			So(c.InitMessage(testutil.JSON(
				`{"universe": "tech", "top k": 0}`)), ShouldNotBeNil)
			So(c.InitMessage(testutil.JSON(
				`{"universe": "tech", "max leverage": -1}`)), ShouldNotBeNil)
			So(c.InitMessage(testutil.JSON(
				`{"universe": "tech", "cost bps": -5}`)), ShouldNotBeNil)
			So(c.InitMessage(testutil.JSON(
				`{"universe": "tech", "rebalance": "Q"}`)), ShouldNotBeNil)
			So(c.InitMessage(testutil.JSON(
				`{"universe": "tech", "start date": "2022-01-01", "end date": "2021-01-01"}`)),
				ShouldNotBeNil)
		})

		Convey("Tickers resolves presets", func() {
			var c Backtest
			So(c.InitMessage(testutil.JSON(`{"universe": "sector_etf"}`)), ShouldBeNil)
			ts, err := c.Tickers()
			So(err, ShouldBeNil)
			So(len(ts), ShouldEqual, len(Universes["sector_etf"]))
			So(ts[0] < ts[1], ShouldBeTrue)
		})

		Convey("Tickers resolves comma lists, deduped and sorted", func() {
			var c Backtest
			So(c.InitMessage(testutil.JSON(
				`{"universe": "msft, aapl, MSFT , "}`)), ShouldBeNil)
			ts, err := c.Tickers()
			So(err, ShouldBeNil)
			So(ts, ShouldResemble, []string{"AAPL", "MSFT"})
		})
	})
}

func TestHash(t *testing.T) {
	t.Parallel()

	Convey("Config hash", t, func() {
		var a, b Backtest
		So(a.InitMessage(testutil.JSON(`{"universe": "tech", "seed": 7}`)), ShouldBeNil)
		So(b.InitMessage(testutil.JSON(`{"seed": 7, "universe": "tech"}`)), ShouldBeNil)

		Convey("same content hashes identically regardless of field order", func() {
			So(a.Hash(), ShouldEqual, b.Hash())
			So(len(a.Hash()), ShouldEqual, 16)
		})

		Convey("changing an economic field changes the hash", func() {
			b.TopK = 5
			So(a.Hash(), ShouldNotEqual, b.Hash())
		})

		Convey("changing only local paths keeps the hash", func() {
			b.DataDir = "/somewhere/else"
			b.ChartPath = "/tmp/chart.json"
			b.Debug = true
			So(a.Hash(), ShouldEqual, b.Hash())
		})
	})
}
