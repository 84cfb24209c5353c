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
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// hashable is the economically relevant subset of Backtest. Local-path and
// debug fields are deliberately absent so that the same run on a different
// machine keeps the same identifier. encoding/json marshals struct fields in
// declaration order, which makes the digest stable.
type hashable struct {
	Universe        string  `json:"universe"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	Days            int     `json:"days"`
	ForwardDays     int     `json:"forward_days"`
	Rebalance       string  `json:"rebalance"`
	TopK            int     `json:"top_k"`
	BottomK         int     `json:"bottom_k"`
	Weighting       string  `json:"weighting"`
	MaxWeight       float64 `json:"max_weight"`
	MaxLeverage     float64 `json:"max_leverage"`
	CostBps         float64 `json:"cost_bps"`
	SlippageBps     float64 `json:"slippage_bps"`
	VolWindow       int     `json:"vol_window"`
	TargetVol       float64 `json:"target_vol"`
	ModelKind       string  `json:"model"`
	MinTrainRows    int     `json:"min_train_rows"`
	MaxTrainRows    int     `json:"max_train_rows"`
	Seed            int     `json:"seed"`
	ReferenceTicker string  `json:"reference_ticker"`
}

// Hash derives the stable run identifier from the config content.
func (c *Backtest) Hash() string {
	h := hashable{
		Universe:        c.Universe,
		StartDate:       c.StartDate.String(),
		EndDate:         c.EndDate.String(),
		Days:            c.Days,
		ForwardDays:     c.ForwardDays,
		Rebalance:       c.Rebalance,
		TopK:            c.TopK,
		BottomK:         c.BottomK,
		Weighting:       c.Weighting,
		MaxWeight:       c.MaxWeight,
		MaxLeverage:     c.MaxLeverage,
		CostBps:         c.CostBps,
		SlippageBps:     c.SlippageBps,
		VolWindow:       c.VolWindow,
		TargetVol:       c.TargetVol,
		ModelKind:       c.ModelKind,
		MinTrainRows:    c.MinTrainRows,
		MaxTrainRows:    c.MaxTrainRows,
		Seed:            c.Seed,
		ReferenceTicker: c.ReferenceTicker,
	}
	js, err := json.Marshal(&h)
	if err != nil {
		// Marshaling a flat struct of scalars cannot fail.
		panic(err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(js))[:16]
}
