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
	"fmt"
)

// Kind classifies backtest errors so that callers can distinguish recoverable
// per-instrument problems from fatal causality or structural failures without
// inspecting error strings.
type Kind int

const (
	// KindUnknown is the zero value for errors not created by this package.
	KindUnknown Kind = iota
	// KindCausality marks any attempt to read, train on or trade using data
	// beyond the clock's current date, or to rewind the clock. Always fatal.
	KindCausality
	// KindInsufficientData marks structural shortfalls: too few instruments,
	// common dates, rebalance dates or training rows. Fatal.
	KindInsufficientData
	// KindInstrumentQuality marks a single instrument failing load or sanity
	// checks. Recoverable: the instrument is dropped and the run proceeds.
	KindInstrumentQuality
	// KindModelFit marks a failed or degenerate model fit. Fatal, since every
	// subsequent signal would depend on the corrupted model.
	KindModelFit
)

func (k Kind) String() string {
	switch k {
	case KindCausality:
		return "causality"
	case KindInsufficientData:
		return "insufficient data"
	case KindInstrumentQuality:
		return "instrument quality"
	case KindModelFit:
		return "model fit"
	}
	return "unknown"
}

// Error is a tagged backtest error.
type Error struct {
	ErrKind Kind
	Msg     string
}

var _ error = &Error{}

func (e *Error) Error() string { return e.ErrKind.String() + ": " + e.Msg }

// Causality creates a KindCausality error. Spelled out at every call site as a
// lookahead violation.
func Causality(format string, args ...any) *Error {
	return &Error{ErrKind: KindCausality, Msg: fmt.Sprintf(format, args...)}
}

// InsufficientData creates a KindInsufficientData error.
func InsufficientData(format string, args ...any) *Error {
	return &Error{ErrKind: KindInsufficientData, Msg: fmt.Sprintf(format, args...)}
}

// InstrumentQuality creates a KindInstrumentQuality error.
func InstrumentQuality(format string, args ...any) *Error {
	return &Error{ErrKind: KindInstrumentQuality, Msg: fmt.Sprintf(format, args...)}
}

// ModelFit creates a KindModelFit error.
func ModelFit(format string, args ...any) *Error {
	return &Error{ErrKind: KindModelFit, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, unwrapping annotation layers as needed.
// Errors not originating from this package report KindUnknown.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.ErrKind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
