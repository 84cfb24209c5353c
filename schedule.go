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

package walkforward

import (
	"github.com/stockparfait/errors"
	"github.com/stockparfait/stockparfait/db"
)

// RebalanceSchedule selects signal dates from an ordered trading calendar.
// Cadences count trading days, not calendar weeks: "W" takes every 5th date,
// "2W" every 10th, both starting from the first; "M" takes the first date of
// each new calendar month.
func RebalanceSchedule(dates []db.Date, cadence string) ([]db.Date, error) {
	var out []db.Date
	switch cadence {
	case "W", "2W":
		step := 5
		if cadence == "2W" {
			step = 10
		}
		for i := 0; i < len(dates); i += step {
			out = append(out, dates[i])
		}
	case "M":
		prev := ""
		for _, d := range dates {
			if key := d.String()[:7]; key != prev {
				out = append(out, d)
				prev = key
			}
		}
	default:
		return nil, errors.Reason("unknown rebalance cadence '%s'", cadence)
	}
	return out, nil
}
