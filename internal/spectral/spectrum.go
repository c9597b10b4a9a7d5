package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum kinds.
const (
	Amplitude = "amp"
	Power     = "pow"
)

// Spectrum returns the frequency step and the one-sided amplitude or power
// spectrum of x sampled every delta seconds. The first bin is 0 Hz.
func Spectrum(x []float64, delta float64, kind string) (float64, []float64, error) {
	if kind != Amplitude && kind != Power {
		return 0, nil, fmt.Errorf("spectrum: unknown type %q", kind)
	}
	n := len(x)
	if n < 2 {
		return 0, nil, errors.New("spectrum: need at least two samples")
	}
	coeff := fourier.NewFFT(n).Coefficients(nil, x)
	spec := make([]float64, len(coeff))
	for i, c := range coeff {
		a := cmplx.Abs(c)
		if kind == Power {
			a *= a
		}
		spec[i] = a
	}
	return 1 / (float64(n) * delta), spec, nil
}

// TriangSmooth smooths spec with a triangular window whose half width grows
// linearly with the bin index (ratio * index), so low frequencies are barely
// touched while high frequencies are averaged over many bins. The window is
// shrunk near the end of the spectrum to stay within bounds.
func TriangSmooth(spec []float64, ratio float64) []float64 {
	out := make([]float64, len(spec))
	copy(out, spec)
	if ratio <= 0 {
		return out
	}
	n := len(spec)
	for i := range spec {
		half := min(int(float64(i)*ratio), i, n-1-i)
		if half < 1 {
			continue
		}
		var sum, wsum float64
		for k := -half; k <= half; k++ {
			w := 1 - math.Abs(float64(k))/float64(half+1)
			sum += w * spec[i+k]
			wsum += w
		}
		out[i] = sum / wsum
	}
	return out
}

// SNR returns the square root of the ratio between the mean signal power and
// the mean noise power over the bins whose frequency lies in [fmin, fmax].
// Amplitude spectra are squared first. A silent noise band yields +Inf; an
// empty band yields NaN.
func SNR(signal, noise []float64, kind string, fmin, fmax, dfSignal, dfNoise float64) float64 {
	s := bandMean(signal, kind, fmin, fmax, dfSignal)
	n := bandMean(noise, kind, fmin, fmax, dfNoise)
	if math.IsNaN(s) || math.IsNaN(n) {
		return math.NaN()
	}
	if n == 0 {
		return math.Inf(1)
	}
	return math.Sqrt(s / n)
}

func bandMean(spec []float64, kind string, fmin, fmax, df float64) float64 {
	var sum float64
	var count int
	for i, v := range spec {
		f := float64(i) * df
		if f < fmin || f > fmax {
			continue
		}
		if kind == Amplitude {
			v *= v
		}
		count++
		if !math.IsNaN(v) {
			sum += v
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}
