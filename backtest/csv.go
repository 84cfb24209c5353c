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
	"fmt"
	"os"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/stockparfait/table"
	"github.com/stockparfait/walkforward"
)

// Row of the signals table as the list of strings compatible with
// encoding/csv.
type Row []string

var _ table.Row = Row{}

func (r Row) CSV() []string { return r }

// writeSignalsCSV dumps the per-rebalance signals: predictions next to the
// realized forward returns. "-" writes a text table to stdout instead.
func writeSignalsCSV(signals []walkforward.Signal, file string) error {
	t := table.NewTable("date", "ticker", "predicted_return", "actual_return")
	for _, s := range signals {
		t.AddRow(Row{
			s.Date.String(),
			s.Ticker,
			fmt.Sprintf("%.8g", s.PredictedReturn),
			fmt.Sprintf("%.8g", s.ActualReturn),
		})
	}
	if file == "-" {
		if err := t.WriteText(os.Stdout, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to write signals table to stdout")
		}
		return nil
	}
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Annotate(err, "failed to open signals CSV file '%s'", file)
	}
	defer f.Close()
	if err := t.WriteCSV(f, table.Params{}); err != nil {
		return errors.Annotate(err, "failed to write signals CSV file '%s'", file)
	}
	return nil
}
