package regression

import "math"

// Subtract returns a − b coefficient-wise. Both must have the same order.
func Subtract(a, b Coefficients) Coefficients {
	out := make(Coefficients, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// Scale multiplies every coefficient of c by k in place.
func Scale(c Coefficients, k float64) {
	for i := range c {
		c[i] *= k
	}
}

// LinearRoot returns the root of c[0] + c[1]·x.
func LinearRoot(c Coefficients) float64 {
	return -c[0] / c[1]
}

// ClosestQuadraticRoot returns the root of c[0] + c[1]·x + c[2]·x² nearest
// to x. A negative discriminant yields NaN.
func ClosestQuadraticRoot(c Coefficients, to float64) float64 {
	disc := math.Sqrt(c[1]*c[1] - 4*c[2]*c[0])
	left := -0.5 * (c[1] + disc) / c[2]
	right := -0.5 * (c[1] - disc) / c[2]
	if math.Abs(left-to) < math.Abs(right-to) {
		return left
	}
	return right
}
