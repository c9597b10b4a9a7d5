// Package spectral implements the signal processing steps behind the station
// energy magnitude: detrending, tapering, Butterworth bandpass filtering,
// instrument response removal, spectra, smoothing and signal-to-noise ratios.
//
// All functions work on plain float64 slices sampled at a constant interval
// and never retain their inputs.
package spectral

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Demean subtracts the mean from x in place.
func Demean(x []float64) {
	if len(x) == 0 {
		return
	}
	floats.AddConst(-stat.Mean(x, nil), x)
}

// Detrend removes the least-squares straight line from x in place.
func Detrend(x []float64) {
	if len(x) < 2 {
		Demean(x)
		return
	}
	idx := make([]float64, len(x))
	for i := range idx {
		idx[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(idx, x, nil, false)
	for i := range x {
		x[i] -= alpha + beta*idx[i]
	}
}

// CosineTaper applies a half-cosine ramp to the first and last fraction p of
// the samples of x, in place. p is clamped to [0, 0.5].
func CosineTaper(x []float64, p float64) {
	p = math.Max(0, math.Min(p, 0.5))
	w := int(p * float64(len(x)))
	if w == 0 {
		return
	}
	n := len(x)
	for i := 0; i < w; i++ {
		f := 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(w)))
		x[i] *= f
		x[n-1-i] *= f
	}
}

// ZeroPad returns a copy of x extended with zeros to n samples. If x is
// already at least n samples long the copy has the length of x.
func ZeroPad(x []float64, n int) []float64 {
	out := make([]float64, max(n, len(x)))
	copy(out, x)
	return out
}

// NextPow2 returns the smallest power of two not less than n.
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// AllFinite reports whether x holds no NaN or infinite value.
func AllFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
