// Package regression implements the small ordinary-least-squares toolkit
// used to calibrate finger sensors: linear and quadratic fits, polynomial
// evaluation and residual statistics.
//
// Coefficients are stored in increasing power order, so index 0 is the
// constant term.
package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrDegenerateFit is returned when the inputs cannot determine a unique
	// fit, e.g. all x values are equal.
	ErrDegenerateFit = errors.New("degenerate fit")
	// ErrInsufficientSamples is returned when too few samples are given.
	ErrInsufficientSamples = errors.New("insufficient samples")
)

// Coefficients of a polynomial, index = power.
type Coefficients []float64

// Order returns the polynomial order (1 linear, 2 quadratic).
func (c Coefficients) Order() int {
	return len(c) - 1
}

// Clone returns a copy of c.
func (c Coefficients) Clone() Coefficients {
	if c == nil {
		return nil
	}
	out := make(Coefficients, len(c))
	copy(out, c)
	return out
}

// Sum returns the sum of all coefficients.
func (c Coefficients) Sum() float64 {
	var s float64
	for _, v := range c {
		s += v
	}
	return s
}

// Evaluate returns Σ coeffs[i]·x^i.
func Evaluate(coeffs Coefficients, x float64) float64 {
	var r float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		r = r*x + coeffs[i]
	}
	return r
}

// LinearFit fits y = b0 + b1·x by OLS.
func LinearFit(xs, ys []float64) (Coefficients, error) {
	if err := checkLengths(xs, ys, 2); err != nil {
		return nil, err
	}
	xVar := stat.Variance(xs, nil)
	if floats.Max(xs) == floats.Min(xs) || xVar == 0 || math.IsNaN(xVar) {
		return nil, fmt.Errorf("linear fit over %d samples: %w", len(xs), ErrDegenerateFit)
	}
	slope := stat.Covariance(xs, ys, nil) / xVar
	intercept := stat.Mean(ys, nil) - slope*stat.Mean(xs, nil)
	return Coefficients{intercept, slope}, nil
}

// QuadraticFit fits y = b0 + b1·x + b2·x² by solving the normal equations
// with Cramer's rule.
func QuadraticFit(xs, ys []float64) (Coefficients, error) {
	if err := checkLengths(xs, ys, 3); err != nil {
		return nil, err
	}

	m := mat.NewDense(3, 3, nil)
	b := make([]float64, 3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, sumXPowers(xs, i+j))
		}
		b[i] = sumXYPowers(xs, ys, i)
	}

	det := mat.Det(m)
	if singular(m, det) {
		return nil, fmt.Errorf("quadratic fit over %d samples: %w", len(xs), ErrDegenerateFit)
	}

	betas := make(Coefficients, 3)
	for i := range betas {
		betas[i] = mat.Det(replaceColumn(m, b, i)) / det
	}
	return betas, nil
}

// AbsDeviations returns |y_i − f(x_i)| for each sample in input order.
func AbsDeviations(xs, ys []float64, coeffs Coefficients) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		out[i] = math.Abs(ys[i] - Evaluate(coeffs, xs[i]))
	}
	return out
}

// SampleStdDev returns the sample standard deviation of values using an
// n−1 denominator. With meanIsZero the mean is taken as 0, which suits
// values that are already deviations from a fitted curve.
func SampleStdDev(values []float64, meanIsZero bool) (float64, error) {
	if len(values) <= 1 {
		return 0, fmt.Errorf("standard deviation of %d values: %w", len(values), ErrInsufficientSamples)
	}
	if !meanIsZero {
		return stat.StdDev(values, nil), nil
	}
	var ss float64
	for _, v := range values {
		ss += v * v
	}
	return math.Sqrt(ss / float64(len(values)-1)), nil
}

// RSquared returns the coefficient of determination SSR/SSTO of coeffs
// over the samples.
func RSquared(xs, ys []float64, coeffs Coefficients) float64 {
	yBar := stat.Mean(ys, nil)
	var ssr, ssto float64
	for i := range xs {
		yHat := Evaluate(coeffs, xs[i])
		ssr += (yHat - yBar) * (yHat - yBar)
		ssto += (ys[i] - yBar) * (ys[i] - yBar)
	}
	return ssr / ssto
}

func checkLengths(xs, ys []float64, minSamples int) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("mismatched columns: %d x values, %d y values", len(xs), len(ys))
	}
	if len(xs) < minSamples {
		return fmt.Errorf("fit needs %d samples, got %d: %w", minSamples, len(xs), ErrInsufficientSamples)
	}
	return nil
}

func sumXPowers(xs []float64, power int) float64 {
	var s float64
	for _, x := range xs {
		s += math.Pow(x, float64(power))
	}
	return s
}

func sumXYPowers(xs, ys []float64, xPower int) float64 {
	var s float64
	for i := range xs {
		s += math.Pow(xs[i], float64(xPower)) * ys[i]
	}
	return s
}

// singular reports whether det is negligible against the Hadamard bound
// of m, i.e. the x values cannot separate three coefficients.
func singular(m *mat.Dense, det float64) bool {
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return true
	}
	bound := 1.0
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		bound *= mat.Norm(m.RowView(i), 2)
	}
	return math.Abs(det) <= 1e-12*bound
}

func replaceColumn(m *mat.Dense, col []float64, j int) *mat.Dense {
	out := mat.DenseCopyOf(m)
	out.SetCol(j, col)
	return out
}
