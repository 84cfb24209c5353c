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

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward/backtest"
	"github.com/stockparfait/walkforward/config"
	"github.com/stockparfait/walkforward/panel"
)

type Flags struct {
	Config   string // config file; when set, the economic flags are ignored
	DBDir    string // default: ~/.stockparfait/sharadar
	DBName   string
	CSVDir   string // per-ticker CSV files; overrides the price DB
	LogLevel logging.Level

	Universe    string
	StartDate   string
	EndDate     string
	Days        int
	Forward     int
	Rebalance   string
	TopK        int
	BottomK     int
	Weighting   string
	MaxWeight   float64
	MaxLeverage float64
	CostBps     float64
	SlippageBps float64
	VolWindow   int
	TargetVol   float64
	Model       string
	Seed        int
	Reference   string
	Chart       string
	SignalsCSV  string
	Debug       bool
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	fs.StringVar(&flags.Config, "conf", "", "JSON configuration file; overrides the economic flags")
	fs.StringVar(&flags.DBDir, "cache",
		filepath.Join(os.Getenv("HOME"), ".stockparfait", "sharadar"),
		"price database path")
	fs.StringVar(&flags.DBName, "db", "sharadar", "price database name")
	fs.StringVar(&flags.CSVDir, "csv-dir", "", "directory of per-ticker CSV files, used instead of the price DB")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")

	fs.StringVar(&flags.Universe, "universe", "", "preset name or comma-separated tickers (required without -conf)")
	fs.StringVar(&flags.StartDate, "start-date", "", "backtest start (YYYY-MM-DD)")
	fs.StringVar(&flags.EndDate, "end-date", "", "backtest end (YYYY-MM-DD)")
	fs.IntVar(&flags.Days, "days", 0, "trading days of history when no start date is set")
	fs.IntVar(&flags.Forward, "forward", 20, "forward return horizon in trading days")
	fs.StringVar(&flags.Rebalance, "rebalance", "W", "rebalance cadence: W, 2W or M")
	fs.IntVar(&flags.TopK, "top-k", 10, "number of long positions")
	fs.IntVar(&flags.BottomK, "bottom-k", 0, "number of short positions")
	fs.StringVar(&flags.Weighting, "weighting", "equal", "weighting scheme: equal or vol_target")
	fs.Float64Var(&flags.MaxWeight, "max-weight", 0.15, "max single position weight")
	fs.Float64Var(&flags.MaxLeverage, "max-leverage", 1.0, "max gross leverage")
	fs.Float64Var(&flags.CostBps, "cost-bps", 10, "transaction cost in bps")
	fs.Float64Var(&flags.SlippageBps, "slippage-bps", 0, "slippage in bps")
	fs.IntVar(&flags.VolWindow, "vol-window", 20, "trailing vol window for vol_target weighting")
	fs.Float64Var(&flags.TargetVol, "target-vol", 0.15, "annualized portfolio vol target")
	fs.StringVar(&flags.Model, "model", "linear", "signal model kind")
	fs.IntVar(&flags.Seed, "seed", 42, "random seed")
	fs.StringVar(&flags.Reference, "reference", "SPY", "buy-and-hold reference ticker")
	fs.StringVar(&flags.Chart, "chart", "", "equity chart artifact path")
	fs.StringVar(&flags.SignalsCSV, "signals-csv", "", "signals CSV output path; '-' for stdout")
	fs.BoolVar(&flags.Debug, "debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.Config == "" && flags.Universe == "" {
		return nil, errors.Reason("either -conf or -universe is required")
	}
	if flags.Debug {
		flags.LogLevel = logging.Debug
	}
	return &flags, nil
}

func flagsConfig(flags *Flags) (*config.Backtest, error) {
	js := map[string]any{
		"universe":          flags.Universe,
		"days":              flags.Days,
		"forward days":      flags.Forward,
		"rebalance":         flags.Rebalance,
		"top k":             flags.TopK,
		"bottom k":          flags.BottomK,
		"weighting":         flags.Weighting,
		"max weight":        flags.MaxWeight,
		"max leverage":      flags.MaxLeverage,
		"cost bps":          flags.CostBps,
		"slippage bps":      flags.SlippageBps,
		"vol window":        flags.VolWindow,
		"target vol annual": flags.TargetVol,
		"model":             flags.Model,
		"min train rows":    200,
		"seed":              flags.Seed,
		"reference ticker":  flags.Reference,
		"debug":             flags.Debug,
	}
	if flags.StartDate != "" {
		js["start date"] = flags.StartDate
	}
	if flags.EndDate != "" {
		js["end date"] = flags.EndDate
	}
	var cfg config.Backtest
	if err := cfg.InitMessage(js); err != nil {
		return nil, errors.Annotate(err, "invalid flag values")
	}
	return &cfg, nil
}

func run(ctx context.Context, flags *Flags) error {
	var cfg *config.Backtest
	var err error
	if flags.Config != "" {
		cfg, err = config.Load(flags.Config)
	} else {
		cfg, err = flagsConfig(flags)
	}
	if err != nil {
		return errors.Annotate(err, "failed to resolve configuration")
	}
	if cfg.ChartPath == "" {
		cfg.ChartPath = flags.Chart
	}
	if cfg.SignalsCSV == "" {
		cfg.SignalsCSV = flags.SignalsCSV
	}

	var src panel.PriceSource
	switch {
	case flags.CSVDir != "":
		src = panel.NewCSVSource(flags.CSVDir)
	case cfg.DataDir != "":
		src = panel.NewDBSource(db.NewReader(cfg.DataDir, flags.DBName))
	default:
		src = panel.NewDBSource(db.NewReader(flags.DBDir, flags.DBName))
	}

	res, err := backtest.Run(ctx, cfg, src)
	if err != nil {
		return err
	}
	js, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Annotate(err, "failed to serialize result")
	}
	fmt.Println(string(js))
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags:\n%s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags); err != nil {
		logging.Errorf(ctx, err.Error())
		js, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Println(string(js))
		os.Exit(1)
	}
}
