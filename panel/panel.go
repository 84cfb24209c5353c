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

// Package panel builds the canonical dates x instruments data panel: aligned
// close and return matrices plus the stacked technical-feature table used for
// walk-forward training. All reads after construction are gated through the
// simulation clock.
package panel

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/stockparfait/db"
	"github.com/stockparfait/walkforward"
	"github.com/stockparfait/walkforward/config"
)

const (
	// minRowCount drops instruments with less than a year of usable rows.
	minRowCount = 252
	// minCommonDates is the minimum length of the canonical calendar.
	minCommonDates = 300
	// coverageThreshold drops instruments covering less than this fraction of
	// the canonical calendar.
	coverageThreshold = 0.8
	// commonDateQuorum keeps a date only when at least this fraction of
	// surviving instruments have data on it.
	commonDateQuorum = 0.5
	// ffillLimit is the longest gap (business days) filled forward.
	ffillLimit = 5
	// absurdDailyReturn flags a single-day move beyond +-50%.
	absurdDailyReturn = 0.5
	// absurdMaxEvents drops an instrument with more than this many flagged
	// days; fewer are kept with a logged warning.
	absurdMaxEvents = 3
)

// FeatureRow is one (date, instrument) observation of the stacked feature
// table: indicator values aligned with the panel's FeatureNames, plus the
// forward log-return label used only as the training target.
type FeatureRow struct {
	Date   db.Date
	Ticker string
	Values []float64
	Label  float64
}

// Stats summarizes the panel for diagnostics.
type Stats struct {
	Instruments int     `json:"instruments"`
	Dates       int     `json:"dates"`
	FeatureRows int     `json:"feature_rows"`
	FillRate    float64 `json:"fill_rate"`
}

// Panel owns the aligned matrices and the feature table for one run.
type Panel struct {
	dates        []db.Date
	index        map[db.Date]int
	tickers      []string // sorted
	closes       map[string][]float64
	rets         map[string][]float64
	featureNames []string
	rows         []FeatureRow // sorted by (date, ticker)
	missing      map[string]string
	notes        []string
	fillRate     float64
}

// Matrix is a clock-truncated view of the daily return matrix.
type Matrix struct {
	Dates   []db.Date
	Tickers []string
	Returns map[string][]float64
}

type series struct {
	bars []walkforward.Bar
}

func sortDates(ds []db.Date) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Before(ds[j]) })
}

func medianDate(ds []db.Date) db.Date {
	cp := append([]db.Date{}, ds...)
	sortDates(cp)
	return cp[len(cp)/2]
}

// sampleStd is the ddof=1 standard deviation of the non-NaN values; NaN when
// fewer than two values remain.
func sampleStd(xs []float64) float64 {
	var sum float64
	var n int
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n < 2 {
		return math.NaN()
	}
	mean := sum / float64(n)
	var ss float64
	for _, x := range xs {
		if !math.IsNaN(x) {
			d := x - mean
			ss += d * d
		}
	}
	return math.Sqrt(ss / float64(n-1))
}

// Load resolves the universe, loads and filters the per-instrument histories,
// and freezes the canonical panel. Structural shortfalls are fatal; individual
// instrument failures only end up in the missing report.
func Load(ctx context.Context, cfg *config.Backtest, src PriceSource) (*Panel, error) {
	tickers, err := cfg.Tickers()
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve universe")
	}

	p := &Panel{
		index:   make(map[db.Date]int),
		closes:  make(map[string][]float64),
		rets:    make(map[string][]float64),
		missing: make(map[string]string),
	}

	loaded := make(map[string]series)
	for _, t := range tickers {
		bars, err := src.Prices(t)
		if err != nil {
			p.missing[t] = err.Error()
			logging.Warningf(ctx, "failed to load %s: %s", t, err.Error())
			continue
		}
		bars = dedupSort(bars)
		if len(bars) == 0 {
			p.missing[t] = "no data"
			continue
		}
		loaded[t] = series{bars: bars}
	}
	if len(loaded) == 0 {
		return nil, walkforward.InsufficientData(
			"none of the %d requested instruments loaded", len(tickers))
	}

	// Canonical calendar: the median of per-instrument valid ranges, so a
	// single short or stale history cannot collapse the overlap.
	var firsts, lasts []db.Date
	for _, s := range loaded {
		firsts = append(firsts, s.bars[0].Date)
		lasts = append(lasts, s.bars[len(s.bars)-1].Date)
	}
	calStart := medianDate(firsts)
	calEnd := medianDate(lasts)

	calendar := unionDates(loaded, calStart, calEnd)
	if len(calendar) == 0 {
		return nil, walkforward.InsufficientData(
			"empty canonical calendar between %s and %s", calStart, calEnd)
	}

	// Per-instrument filters against the canonical calendar. Failing
	// instruments are removed, never patched.
	aligned := make(map[string][]walkforward.Bar, len(loaded))
	for t, s := range loaded {
		bars, present := alignToCalendar(s.bars, calendar)
		if present < minRowCount {
			p.missing[t] = errors.Reason(
				"only %d rows on the canonical calendar, need >= %d",
				present, minRowCount).Error()
			continue
		}
		if cov := float64(present) / float64(len(calendar)); cov < coverageThreshold {
			p.missing[t] = errors.Reason(
				"coverage %.2f below threshold %.2f", cov, coverageThreshold).Error()
			continue
		}
		ffill(bars, ffillLimit)
		if reason, note := validateReturns(t, bars); reason != "" {
			p.missing[t] = reason
			continue
		} else if note != "" {
			p.notes = append(p.notes, note)
			logging.Warningf(ctx, "%s", note)
		}
		aligned[t] = bars
	}
	if len(aligned) == 0 {
		return nil, walkforward.InsufficientData(
			"no instruments survived quality filtering (%d requested)", len(tickers))
	}

	// A date stays in the panel only with a quorum of surviving instruments.
	var common []db.Date
	for i, d := range calendar {
		n := 0
		for _, bars := range aligned {
			if !math.IsNaN(bars[i].Close) {
				n++
			}
		}
		if float64(n) >= commonDateQuorum*float64(len(aligned)) {
			common = append(common, d)
		}
	}
	common = trimDates(common, cfg)
	if len(common) < minCommonDates {
		return nil, walkforward.InsufficientData(
			"only %d common dates across %d instruments, need >= %d",
			len(common), len(aligned), minCommonDates)
	}

	p.dates = common
	for i, d := range common {
		p.index[d] = i
	}
	for t := range aligned {
		p.tickers = append(p.tickers, t)
	}
	sort.Strings(p.tickers)

	// Dense close and return matrices on the final calendar.
	calIdx := make(map[db.Date]int, len(calendar))
	for i, d := range calendar {
		calIdx[d] = i
	}
	var filled, total int
	finalBars := make(map[string][]walkforward.Bar, len(aligned))
	for _, t := range p.tickers {
		bars := make([]walkforward.Bar, len(common))
		closes := make([]float64, len(common))
		for i, d := range common {
			bars[i] = aligned[t][calIdx[d]]
			closes[i] = bars[i].Close
			total++
			if !math.IsNaN(closes[i]) {
				filled++
			}
		}
		finalBars[t] = bars
		p.closes[t] = closes
		p.rets[t] = pctChange(closes)
	}
	if total > 0 {
		p.fillRate = float64(filled) / float64(total)
	}

	if err := p.buildFeatures(ctx, finalBars, cfg.ForwardDays); err != nil {
		return nil, errors.Annotate(err, "failed to build feature table")
	}

	logging.Infof(ctx, "panel: %d instruments on %d dates (%s to %s), fill rate %.3f",
		len(p.tickers), len(p.dates), p.dates[0], p.dates[len(p.dates)-1], p.fillRate)
	return p, nil
}

func dedupSort(bars []walkforward.Bar) []walkforward.Bar {
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.Date == bars[i-1].Date {
			continue
		}
		out = append(out, b)
	}
	return out
}

func unionDates(loaded map[string]series, start, end db.Date) []db.Date {
	set := make(map[db.Date]struct{})
	for _, s := range loaded {
		for _, b := range s.bars {
			if b.Date.Before(start) || end.Before(b.Date) {
				continue
			}
			set[b.Date] = struct{}{}
		}
	}
	dates := make([]db.Date, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sortDates(dates)
	return dates
}

// alignToCalendar expands bars onto the calendar, NaN-filling missing days,
// and reports how many days had data.
func alignToCalendar(bars []walkforward.Bar, calendar []db.Date) ([]walkforward.Bar, int) {
	byDate := make(map[db.Date]walkforward.Bar, len(bars))
	for _, b := range bars {
		byDate[b.Date] = b
	}
	nan := math.NaN()
	out := make([]walkforward.Bar, len(calendar))
	present := 0
	for i, d := range calendar {
		if b, ok := byDate[d]; ok {
			out[i] = b
			present++
		} else {
			out[i] = walkforward.Bar{Date: d, Open: nan, High: nan, Low: nan, Close: nan, Volume: nan}
		}
	}
	return out, present
}

// ffill forward-fills NaN closes (and the rest of the bar) for gaps of at most
// limit days. Longer gaps stay NaN.
func ffill(bars []walkforward.Bar, limit int) {
	gap := 0
	for i := range bars {
		if !math.IsNaN(bars[i].Close) {
			gap = 0
			continue
		}
		gap++
		if i == 0 || gap > limit || math.IsNaN(bars[i-1].Close) {
			continue
		}
		d := bars[i].Date
		bars[i] = bars[i-1]
		bars[i].Date = d
	}
}

// validateReturns flags single-day moves beyond the sanity threshold. More
// than absurdMaxEvents is a drop reason; one or a few is only a note.
func validateReturns(ticker string, bars []walkforward.Bar) (reason, note string) {
	events := 0
	prev := math.NaN()
	var first db.Date
	for _, b := range bars {
		if !math.IsNaN(prev) && !math.IsNaN(b.Close) && prev != 0 {
			r := b.Close/prev - 1
			if math.Abs(r) > absurdDailyReturn {
				if events == 0 {
					first = b.Date
				}
				events++
			}
		}
		if !math.IsNaN(b.Close) {
			prev = b.Close
		}
	}
	if events > absurdMaxEvents {
		return errors.Reason("%d daily moves beyond +-%.0f%% (max %d), first at %s",
			events, absurdDailyReturn*100, absurdMaxEvents, first).Error(), ""
	}
	if events > 0 {
		note = errors.Reason("%s: %d daily move(s) beyond +-%.0f%% kept, first at %s",
			ticker, events, absurdDailyReturn*100, first).Error()
	}
	return "", note
}

func trimDates(dates []db.Date, cfg *config.Backtest) []db.Date {
	out := dates
	if !cfg.StartDate.IsZero() {
		i := sort.Search(len(out), func(i int) bool { return !out[i].Before(cfg.StartDate) })
		out = out[i:]
	}
	if !cfg.EndDate.IsZero() {
		i := sort.Search(len(out), func(i int) bool { return cfg.EndDate.Before(out[i]) })
		out = out[:i]
	}
	if cfg.Days > 0 && cfg.StartDate.IsZero() && len(out) > cfg.Days {
		out = out[len(out)-cfg.Days:]
	}
	return out
}

func pctChange(closes []float64) []float64 {
	rets := make([]float64, len(closes))
	for i := range rets {
		if i == 0 || math.IsNaN(closes[i]) || math.IsNaN(closes[i-1]) || closes[i-1] == 0 {
			rets[i] = math.NaN()
			continue
		}
		rets[i] = closes[i]/closes[i-1] - 1
	}
	return rets
}

type tickerFeatures struct {
	ticker    string
	rows      []FeatureRow
	available []string
}

type tickerIter struct {
	tickers []string
	i       int
}

var _ iterator.Iterator[string] = &tickerIter{}

func (it *tickerIter) Next() (string, bool) {
	if it.i >= len(it.tickers) {
		return "", false
	}
	t := it.tickers[it.i]
	it.i++
	return t, true
}

// buildFeatures computes per-instrument rolling features in parallel (strictly
// read-only before the panel is frozen), intersects feature availability
// across instruments, and stacks the complete rows.
func (p *Panel) buildFeatures(ctx context.Context, bars map[string][]walkforward.Bar, forwardDays int) error {
	it := &tickerIter{tickers: p.tickers}
	f := func(t string) *tickerFeatures {
		rows, available := computeFeatures(t, bars[t], forwardDays)
		return &tickerFeatures{ticker: t, rows: rows, available: available}
	}
	pm := iterator.ParallelMap[string, *tickerFeatures](ctx, 2*runtime.NumCPU(), it, f)
	defer pm.Close()
	results := iterator.ToSlice[*tickerFeatures](pm)
	sort.Slice(results, func(i, j int) bool { return results[i].ticker < results[j].ticker })

	var common map[string]struct{}
	for _, r := range results {
		set := make(map[string]struct{}, len(r.available))
		for _, name := range r.available {
			set[name] = struct{}{}
		}
		if common == nil {
			common = set
			continue
		}
		for name := range common {
			if _, ok := set[name]; !ok {
				delete(common, name)
			}
		}
	}
	for _, name := range allFeatureNames {
		if _, ok := common[name]; ok {
			p.featureNames = append(p.featureNames, name)
		}
	}
	if len(p.featureNames) == 0 {
		return walkforward.InsufficientData(
			"no common feature columns across %d instruments", len(p.tickers))
	}

	for _, r := range results {
		for _, row := range r.rows {
			projected, ok := projectRow(row, r.available, p.featureNames)
			if ok {
				p.rows = append(p.rows, projected)
			}
		}
	}
	sort.Slice(p.rows, func(i, j int) bool {
		if p.rows[i].Date != p.rows[j].Date {
			return p.rows[i].Date.Before(p.rows[j].Date)
		}
		return p.rows[i].Ticker < p.rows[j].Ticker
	})
	if len(p.rows) == 0 {
		return walkforward.InsufficientData("feature table is empty after NaN filtering")
	}
	logging.Infof(ctx, "feature table: %d rows, %d features, %d instruments",
		len(p.rows), len(p.featureNames), len(p.tickers))
	return nil
}

// projectRow narrows a row to the common feature set and drops it when any
// value or the label is NaN or infinite.
func projectRow(row FeatureRow, available, common []string) (FeatureRow, bool) {
	idx := make(map[string]int, len(available))
	for i, name := range available {
		idx[name] = i
	}
	out := FeatureRow{Date: row.Date, Ticker: row.Ticker, Label: row.Label}
	if math.IsNaN(row.Label) || math.IsInf(row.Label, 0) {
		return out, false
	}
	out.Values = make([]float64, len(common))
	for i, name := range common {
		v := row.Values[idx[name]]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return out, false
		}
		out.Values[i] = v
	}
	return out, true
}

// Dates is the canonical trading calendar of the panel.
func (p *Panel) Dates() []db.Date { return p.dates }

// Tickers lists the surviving instruments in ascending order.
func (p *Panel) Tickers() []string { return p.tickers }

// FeatureNames lists the feature columns common to all instruments.
func (p *Panel) FeatureNames() []string { return p.featureNames }

// MissingReport maps failed or dropped instruments to the exclusion reason.
func (p *Panel) MissingReport() map[string]string { return p.missing }

// QualityNotes are non-fatal data quality observations.
func (p *Panel) QualityNotes() []string { return p.notes }

// Stats reports panel shape and fill rate.
func (p *Panel) Stats() Stats {
	return Stats{
		Instruments: len(p.tickers),
		Dates:       len(p.dates),
		FeatureRows: len(p.rows),
		FillRate:    p.fillRate,
	}
}

// DateIndex locates a date on the canonical calendar.
func (p *Panel) DateIndex(d db.Date) (int, bool) {
	i, ok := p.index[d]
	return i, ok
}

// TrainingData returns the feature rows strictly before the given date. The
// clock must already be at or past the most recent returned row.
func (p *Panel) TrainingData(clock *walkforward.Clock, before db.Date) ([]FeatureRow, error) {
	n := sort.Search(len(p.rows), func(i int) bool {
		return !p.rows[i].Date.Before(before)
	})
	rows := p.rows[:n]
	if len(rows) > 0 {
		last := rows[len(rows)-1].Date
		if err := clock.GuardDataAccess(last, "training data"); err != nil {
			return nil, err
		}
		if err := clock.GuardTrainingData(last, before, "training data"); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// SignalData returns the feature rows at exactly the given date.
func (p *Panel) SignalData(clock *walkforward.Clock, at db.Date) ([]FeatureRow, error) {
	if err := clock.GuardDataAccess(at, "signal features"); err != nil {
		return nil, err
	}
	lo := sort.Search(len(p.rows), func(i int) bool {
		return !p.rows[i].Date.Before(at)
	})
	hi := lo
	for hi < len(p.rows) && p.rows[hi].Date == at {
		hi++
	}
	return p.rows[lo:hi], nil
}

// DailyReturn is the simple return of the instrument on the given date; NaN
// when the instrument or the day is missing.
func (p *Panel) DailyReturn(clock *walkforward.Clock, ticker string, date db.Date) (float64, error) {
	if err := clock.GuardDataAccess(date, "daily return"); err != nil {
		return 0, err
	}
	rets, ok := p.rets[ticker]
	if !ok {
		return math.NaN(), nil
	}
	i, ok := p.index[date]
	if !ok {
		return math.NaN(), nil
	}
	return rets[i], nil
}

// TrailingStd is the sample standard deviation of the instrument's daily
// returns over the window ending at the given date. NaN when the calendar has
// fewer than window days before the date, or fewer than two defined returns in
// the window.
func (p *Panel) TrailingStd(clock *walkforward.Clock, ticker string, window int, at db.Date) (float64, error) {
	if err := clock.GuardDataAccess(at, "trailing volatility"); err != nil {
		return 0, err
	}
	rets, ok := p.rets[ticker]
	if !ok {
		return math.NaN(), nil
	}
	end, ok := p.index[at]
	if !ok {
		// Fall back to the last date at or before the requested one.
		end = sort.Search(len(p.dates), func(i int) bool {
			return at.Before(p.dates[i])
		}) - 1
		if end < 0 {
			return math.NaN(), nil
		}
	}
	if end+1 < window {
		return math.NaN(), nil
	}
	return sampleStd(rets[end+1-window : end+1]), nil
}

// ReturnsUpTo is the return matrix truncated to dates at or before the given
// date.
func (p *Panel) ReturnsUpTo(clock *walkforward.Clock, date db.Date) (*Matrix, error) {
	if err := clock.GuardDataAccess(date, "return matrix"); err != nil {
		return nil, err
	}
	n := sort.Search(len(p.dates), func(i int) bool { return date.Before(p.dates[i]) })
	m := &Matrix{
		Dates:   p.dates[:n],
		Tickers: p.tickers,
		Returns: make(map[string][]float64, len(p.tickers)),
	}
	for _, t := range p.tickers {
		m.Returns[t] = p.rets[t][:n]
	}
	return m, nil
}
