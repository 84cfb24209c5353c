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

package panel

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
)

// PriceSource loads the raw daily price history of a single instrument.
// Implementations: NewDBSource for a stockparfait price DB, NewCSVSource for a
// directory of per-ticker CSV files with loosely named columns.
type PriceSource interface {
	Prices(ticker string) ([]walkforward.Bar, error)
}

type dbSource struct {
	reader *db.Reader
}

// NewDBSource adapts a stockparfait db.Reader. The DB schema carries adjusted
// close and dollar volume; open/high/low are reported as NaN, so features
// requiring them drop out of the availability intersection.
func NewDBSource(reader *db.Reader) PriceSource {
	return &dbSource{reader: reader}
}

func (s *dbSource) Prices(ticker string) ([]walkforward.Bar, error) {
	rows, err := s.reader.Prices(ticker)
	if err != nil {
		return nil, errors.Annotate(err, "cannot load prices for '%s'", ticker)
	}
	nan := math.NaN()
	bars := make([]walkforward.Bar, len(rows))
	for i, r := range rows {
		bars[i] = walkforward.Bar{
			Date:   r.Date,
			Open:   nan,
			High:   nan,
			Low:    nan,
			Close:  float64(r.CloseFullyAdjusted),
			Volume: float64(r.CashVolume),
		}
	}
	return bars, nil
}

// columnAliases maps each target column to the header spellings it accepts.
// Aliases are matched case-insensitively with spaces and underscores removed.
// Earlier aliases win: "adj close" is preferred over raw "close".
var columnAliases = []struct {
	target  string
	aliases []string
}{
	{"date", []string{"date", "datetime", "timestamp", "time"}},
	{"close", []string{"adj close", "adjclose", "adj_close", "close"}},
	{"open", []string{"open"}},
	{"high", []string{"high"}},
	{"low", []string{"low"}},
	{"volume", []string{"volume", "vol"}},
}

func canonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	return strings.ReplaceAll(h, "_", "")
}

// mapHeader resolves a CSV header row into target -> column index. Date and
// close are required; the rest are optional.
func mapHeader(header []string) (map[string]int, error) {
	canon := make(map[string]int, len(header))
	for i, h := range header {
		key := canonicalHeader(h)
		if _, ok := canon[key]; !ok {
			canon[key] = i
		}
	}
	cols := make(map[string]int)
	for _, a := range columnAliases {
		for _, alias := range a.aliases {
			if i, ok := canon[canonicalHeader(alias)]; ok {
				cols[a.target] = i
				break
			}
		}
	}
	if _, ok := cols["date"]; !ok {
		return nil, walkforward.InstrumentQuality(
			"unrecognized schema: no date column in %v", header)
	}
	if _, ok := cols["close"]; !ok {
		return nil, walkforward.InstrumentQuality(
			"unrecognized schema: no close column in %v", header)
	}
	return cols, nil
}

type csvSource struct {
	dir string
}

// NewCSVSource reads <dir>/<TICKER>.csv files. Column names are normalized
// through the alias table; rows failing to parse become NaN cells rather than
// load failures.
func NewCSVSource(dir string) PriceSource {
	return &csvSource{dir: dir}
}

func parseCell(record []string, idx int, ok bool) float64 {
	if !ok || idx >= len(record) {
		return math.NaN()
	}
	s := strings.TrimSpace(record[idx])
	if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "nan") ||
		strings.EqualFold(s, "null") {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (s *csvSource) Prices(ticker string) ([]walkforward.Bar, error) {
	path := filepath.Join(s.dir, ticker+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "cannot open price file '%s'", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "cannot parse CSV '%s'", path)
	}
	if len(records) < 2 {
		return nil, walkforward.InstrumentQuality("'%s' has no data rows", path)
	}
	cols, err := mapHeader(records[0])
	if err != nil {
		return nil, errors.Annotate(err, "bad header in '%s'", path)
	}

	var bars []walkforward.Bar
	for _, rec := range records[1:] {
		di := cols["date"]
		if di >= len(rec) {
			continue
		}
		date, err := db.NewDateFromString(strings.TrimSpace(rec[di]))
		if err != nil || date.IsZero() {
			continue
		}
		ci, cok := cols["close"]
		oi, ook := cols["open"]
		hi, hok := cols["high"]
		li, lok := cols["low"]
		vi, vok := cols["volume"]
		close := parseCell(rec, ci, cok)
		if math.IsNaN(close) {
			continue
		}
		bars = append(bars, walkforward.Bar{
			Date:   date,
			Open:   parseCell(rec, oi, ook),
			High:   parseCell(rec, hi, hok),
			Low:    parseCell(rec, li, lok),
			Close:  close,
			Volume: parseCell(rec, vi, vok),
		})
	}
	return bars, nil
}
