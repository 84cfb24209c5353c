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

// Package config implements the configuration schema of a backtest run.
//
// A Backtest value is constructed once per run and read-only thereafter. Its
// content hash identifies the run: two configs with the same economically
// relevant fields hash identically regardless of where the data lives on disk.
package config

import (
	"sort"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/stockparfait/message"
)

// Universes are the preset instrument lists selectable by name.
var Universes = map[string][]string{
	"mega": {
		"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "BRK-B",
		"JPM", "V", "UNH", "JNJ", "XOM", "WMT", "MA", "PG", "HD", "CVX",
		"MRK", "ABBV", "LLY", "COST", "PEP", "KO", "AVGO",
	},
	"sp500_25": {
		"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "JPM",
		"V", "UNH", "JNJ", "XOM", "WMT", "PG", "HD", "CVX", "MRK",
		"ABBV", "LLY", "COST", "PEP", "KO", "AVGO", "BAC", "ADBE",
	},
	"tech": {
		"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA", "AVGO",
		"ADBE", "CRM", "ORCL", "AMD", "INTC", "QCOM", "TXN", "NOW",
		"AMAT", "MU", "LRCX", "SNPS",
	},
	"sector_etf": {
		"XLK", "XLF", "XLV", "XLE", "XLI", "XLY", "XLP", "XLU", "XLB",
		"XLRE", "XLC",
	},
}

// Backtest is the full configuration of one walk-forward run.
type Backtest struct {
	// Universe is either a preset name (see Universes) or a comma-separated
	// ticker list.
	Universe  string  `json:"universe" required:"true"`
	StartDate db.Date `json:"start date"`
	EndDate   db.Date `json:"end date"`
	// Days trims the calendar to the most recent N trading days when no start
	// date is given.
	Days int `json:"days"`
	// ForwardDays is the forward-return horizon in trading days.
	ForwardDays int `json:"forward days" default:"20"`
	// Rebalance cadence over trading days: W = every 5th eligible trading day,
	// 2W = every 10th, M = first eligible day of each new calendar month.
	Rebalance string `json:"rebalance" choices:"W,2W,M" default:"W"`
	TopK      int    `json:"top k" default:"10"`
	BottomK   int    `json:"bottom k"`
	Weighting string `json:"weighting" choices:"equal,vol_target" default:"equal"`
	// MaxWeight caps a single position; MaxLeverage caps gross exposure.
	MaxWeight   float64 `json:"max weight" default:"0.15"`
	MaxLeverage float64 `json:"max leverage" default:"1.0"`
	CostBps     float64 `json:"cost bps" default:"10"`
	SlippageBps float64 `json:"slippage bps"`
	// Vol-targeting: trailing window (trading days) and annualized target.
	VolWindow    int     `json:"vol window" default:"20"`
	TargetVol    float64 `json:"target vol annual" default:"0.15"`
	ModelKind    string  `json:"model" choices:"linear" default:"linear"`
	MinTrainRows int     `json:"min train rows" default:"200"`
	// MaxTrainRows bounds the fit cost; 0 keeps the full expanding window.
	MaxTrainRows int `json:"max train rows"`
	Seed         int `json:"seed" default:"42"`
	// ReferenceTicker is the buy-and-hold benchmark instrument, used when it
	// survives panel filtering.
	ReferenceTicker string `json:"reference ticker" default:"SPY"`

	// Local-path and debug fields, excluded from the content hash.
	DataDir    string `json:"data dir"`
	ChartPath  string `json:"chart path"`
	SignalsCSV string `json:"signals csv"`
	Debug      bool   `json:"debug"`
}

var _ message.Message = &Backtest{}

// InitMessage implements message.Message.
func (c *Backtest) InitMessage(js any) error {
	if err := message.Init(c, js); err != nil {
		return errors.Annotate(err, "failed to parse backtest config")
	}
	if strings.TrimSpace(c.Universe) == "" {
		return errors.Reason("universe must not be empty")
	}
	if c.ForwardDays < 1 {
		return errors.Reason("forward days = %d must be >= 1", c.ForwardDays)
	}
	if c.TopK < 1 {
		return errors.Reason("top k = %d must be >= 1", c.TopK)
	}
	if c.BottomK < 0 {
		return errors.Reason("bottom k = %d must be >= 0", c.BottomK)
	}
	if c.MaxWeight <= 0 {
		return errors.Reason("max weight = %g must be positive", c.MaxWeight)
	}
	if c.MaxLeverage <= 0 {
		return errors.Reason("max leverage = %g must be positive", c.MaxLeverage)
	}
	if c.CostBps < 0 || c.SlippageBps < 0 {
		return errors.Reason("cost bps = %g and slippage bps = %g must be >= 0",
			c.CostBps, c.SlippageBps)
	}
	if c.VolWindow < 2 {
		return errors.Reason("vol window = %d must be >= 2", c.VolWindow)
	}
	if c.TargetVol <= 0 {
		return errors.Reason("target vol annual = %g must be positive", c.TargetVol)
	}
	if c.MinTrainRows < 1 {
		return errors.Reason("min train rows = %d must be >= 1", c.MinTrainRows)
	}
	if c.MaxTrainRows < 0 {
		return errors.Reason("max train rows = %d must be >= 0", c.MaxTrainRows)
	}
	if c.Days < 0 {
		return errors.Reason("days = %d must be >= 0", c.Days)
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return errors.Reason("end date %s precedes start date %s",
			c.EndDate, c.StartDate)
	}
	return nil
}

// Tickers resolves the universe into an ordered, de-duplicated ticker list.
func (c *Backtest) Tickers() ([]string, error) {
	var list []string
	if preset, ok := Universes[strings.ToLower(strings.TrimSpace(c.Universe))]; ok {
		list = append(list, preset...)
	} else {
		for _, t := range strings.Split(c.Universe, ",") {
			t = strings.ToUpper(strings.TrimSpace(t))
			if t != "" {
				list = append(list, t)
			}
		}
	}
	seen := make(map[string]struct{}, len(list))
	var out []string
	for _, t := range list {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.Reason("universe '%s' resolves to no tickers", c.Universe)
	}
	sort.Strings(out)
	return out, nil
}

// Load reads a Backtest config from a JSON file.
func Load(configPath string) (*Backtest, error) {
	var c Backtest
	if err := message.FromFile(&c, configPath); err != nil {
		return nil, errors.Annotate(err, "cannot read config '%s'", configPath)
	}
	return &c, nil
}
