package spectral

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"
)

// Spline is a not-a-knot cubic interpolant. Three knots give the parabola
// through them and two knots a straight line. Outside the knot range the edge
// values are returned.
type Spline struct {
	predictor interp.Predictor
}

// NewSpline fits a spline through (xs, ys). xs must be strictly increasing
// and every value finite. Fitting is linear in the number of knots.
func NewSpline(xs, ys []float64) (s *Spline, err error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("spline: %d knots but %d values", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, errors.New("spline: need at least two knots")
	}
	if !AllFinite(xs) || !AllFinite(ys) {
		return nil, errors.New("spline: non-finite input")
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("spline: knots not strictly increasing at index %d", i)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("spline: %v", r)
		}
	}()

	m, err := secondDerivatives(xs, ys)
	if err != nil {
		return nil, fmt.Errorf("spline: %w", err)
	}
	var pc interp.PiecewiseCubic
	pc.FitWithDerivatives(xs, ys, firstDerivatives(xs, ys, m))
	return &Spline{predictor: &pc}, nil
}

// secondDerivatives returns the spline's second derivative at every knot.
// The not-a-knot conditions (continuous third derivative at the second and
// second to last knot) are eliminated into the first and last interior
// equations, which leaves a tridiagonal system in the interior unknowns.
func secondDerivatives(xs, ys []float64) ([]float64, error) {
	n := len(xs)
	m := make([]float64, n)
	switch n {
	case 2:
		return m, nil
	case 3:
		c := 2 * (slope(xs, ys, 1) - slope(xs, ys, 0)) / (xs[2] - xs[0])
		for i := range m {
			m[i] = c
		}
		return m, nil
	}

	h := func(i int) float64 { return xs[i+1] - xs[i] }
	k := n - 2
	dl := make([]float64, k-1)
	d := make([]float64, k)
	du := make([]float64, k-1)
	rhs := make([]float64, k)
	for j := range k {
		i := j + 1
		if j > 0 {
			dl[j-1] = h(i - 1)
		}
		d[j] = 2 * (h(i-1) + h(i))
		if j < k-1 {
			du[j] = h(i)
		}
		rhs[j] = 6 * (slope(xs, ys, i) - slope(xs, ys, i-1))
	}

	h0, h1 := h(0), h(1)
	d[0] = (h0 + h1) * (h0 + 2*h1) / h1
	du[0] = (h1*h1 - h0*h0) / h1

	a, b := h(n-3), h(n-2)
	d[k-1] = (a + b) * (2*a + b) / a
	dl[k-2] = (a*a - b*b) / a

	var x mat.VecDense
	if err := mat.NewTridiag(k, dl, d, du).SolveVecTo(&x, false, mat.NewVecDense(k, rhs)); err != nil {
		return nil, err
	}
	for j := range k {
		m[j+1] = x.AtVec(j)
	}
	m[0] = m[1] + h0*(m[1]-m[2])/h1
	m[n-1] = m[n-2] + b*(m[n-2]-m[n-3])/a
	return m, nil
}

// firstDerivatives converts knot second derivatives into the knot slopes of
// the same piecewise cubic.
func firstDerivatives(xs, ys, m []float64) []float64 {
	n := len(xs)
	out := make([]float64, n)
	for i := range n - 1 {
		h := xs[i+1] - xs[i]
		out[i] = slope(xs, ys, i) - h*(2*m[i]+m[i+1])/6
	}
	h := xs[n-1] - xs[n-2]
	out[n-1] = slope(xs, ys, n-2) + h*(m[n-2]+2*m[n-1])/6
	return out
}

func slope(xs, ys []float64, i int) float64 {
	return (ys[i+1] - ys[i]) / (xs[i+1] - xs[i])
}

// At evaluates the spline at x.
func (s *Spline) At(x float64) float64 {
	return s.predictor.Predict(x)
}

// AtAll evaluates the spline at every x.
func (s *Spline) AtAll(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = s.At(x)
	}
	return out
}

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	switch n {
	case 0:
		return out
	case 1:
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}
