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

// Package walkforward holds the shared domain types of the walk-forward
// backtesting engine: the simulation clock, the tagged error taxonomy, and the
// value types passed between the panel, signal, portfolio and simulator
// packages.
package walkforward

import (
	"github.com/stockparfait/stockparfait/db"
)

// Clock is the single source of truth for "now" in simulated time. Every data
// read is gated through it, which is what enforces the no-lookahead guarantee.
// Time only moves forward; any attempt to rewind or to access data beyond the
// current date is a causality error.
//
// A run uses two Clock instances in sequence: one over the full panel calendar
// during signal generation, and a second initialized over the out-of-sample
// sub-calendar for execution, deliberately resetting "now" between the phases.
type Clock struct {
	calendar    []db.Date
	now         db.Date
	initialized bool
	started     bool // AdvanceTo called at least once
}

// NewClock creates an uninitialized clock.
func NewClock() *Clock { return &Clock{} }

// Init resets the clock and declares the ordered set of valid dates for one
// run phase. The calendar must be strictly increasing.
func (c *Clock) Init(calendar []db.Date) error {
	for i := 1; i < len(calendar); i++ {
		if !calendar[i-1].Before(calendar[i]) {
			return InsufficientData(
				"calendar is not strictly increasing at %d: %s >= %s",
				i, calendar[i-1], calendar[i])
		}
	}
	c.calendar = calendar
	c.now = db.Date{}
	c.initialized = true
	c.started = false
	return nil
}

// Now is the current simulated date. Zero value before the first AdvanceTo.
func (c *Clock) Now() db.Date { return c.now }

// AdvanceTo sets "now". Moving backwards in time is a causality error.
func (c *Clock) AdvanceTo(date db.Date) error {
	if !c.initialized {
		return Causality("AdvanceTo(%s) on an uninitialized clock", date)
	}
	if c.started && date.Before(c.now) {
		return Causality("clock cannot rewind from %s to %s", c.now, date)
	}
	c.now = date
	c.started = true
	return nil
}

// GuardDataAccess fails when date is strictly after "now". The context string
// names the access for the error message.
func (c *Clock) GuardDataAccess(date db.Date, context string) error {
	if !c.started {
		return Causality("%s: data access at %s before the clock started",
			context, date)
	}
	if c.now.Before(date) {
		return Causality("%s: access to %s but the clock is at %s",
			context, date, c.now)
	}
	return nil
}

// GuardTrainingData requires the most recent training observation to strictly
// predate the date being predicted.
func (c *Clock) GuardTrainingData(trainEnd, signalDate db.Date, context string) error {
	if !trainEnd.Before(signalDate) {
		return Causality("%s: training data through %s does not predate signal date %s",
			context, trainEnd, signalDate)
	}
	return nil
}
