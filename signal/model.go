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

package signal

import (
	"math"

	"github.com/stockparfait/walkforward"
	"gonum.org/v1/gonum/mat"
)

// Model is a cross-sectional return predictor. Fit consumes the standardized
// pooled training matrix; Predict scores one standardized row.
type Model interface {
	Fit(X mat.Matrix, y []float64) error
	Predict(x []float64) float64
}

// Ridge is L2-regularized linear regression solved through the normal
// equations. The intercept is not penalized: with column-standardized inputs
// it reduces to the training target mean.
type Ridge struct {
	Alpha     float64
	coef      *mat.VecDense
	intercept float64
}

var _ Model = &Ridge{}

func NewRidge(alpha float64) *Ridge { return &Ridge{Alpha: alpha} }

// Fit solves (X'X + alpha*I) beta = X' (y - mean(y)).
func (r *Ridge) Fit(X mat.Matrix, y []float64) error {
	n, d := X.Dims()
	if n != len(y) {
		return walkforward.ModelFit("X has %d rows but y has %d values", n, len(y))
	}
	if n == 0 || d == 0 {
		return walkforward.ModelFit("empty training matrix: %d x %d", n, d)
	}
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-mean)
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	for i := 0; i < d; i++ {
		xtx.Set(i, i, xtx.At(i, i)+r.Alpha)
	}
	xty := mat.NewVecDense(d, nil)
	xty.MulVec(X.T(), yc)

	coef := mat.NewVecDense(d, nil)
	if err := coef.SolveVec(&xtx, xty); err != nil {
		return walkforward.ModelFit("normal equations are singular (%d x %d, alpha=%g)",
			n, d, r.Alpha)
	}
	r.coef = coef
	r.intercept = mean
	return nil
}

func (r *Ridge) Predict(x []float64) float64 {
	pred := r.intercept
	for i := 0; i < r.coef.Len() && i < len(x); i++ {
		pred += r.coef.AtVec(i) * x[i]
	}
	return pred
}

// Standardizer centers and scales columns using statistics fit on training
// data only. Constant columns keep scale 1 so they pass through centered.
type Standardizer struct {
	means  []float64
	scales []float64
}

// Fit computes per-column mean and population standard deviation.
func (s *Standardizer) Fit(X mat.Matrix) {
	n, d := X.Dims()
	s.means = make([]float64, d)
	s.scales = make([]float64, d)
	for j := 0; j < d; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X.At(i, j)
		}
		mean := sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			dev := X.At(i, j) - mean
			ss += dev * dev
		}
		scale := math.Sqrt(ss / float64(n))
		if scale == 0 {
			scale = 1
		}
		s.means[j] = mean
		s.scales[j] = scale
	}
}

// TransformRow standardizes one row in place.
func (s *Standardizer) TransformRow(x []float64) {
	for j := range x {
		if j < len(s.means) {
			x[j] = (x[j] - s.means[j]) / s.scales[j]
		}
	}
}

// Transform standardizes the full matrix in place.
func (s *Standardizer) Transform(X *mat.Dense) {
	n, d := X.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			X.Set(i, j, (X.At(i, j)-s.means[j])/s.scales[j])
		}
	}
}
