package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/couchcryptid/me-compute/internal/domain"
	"gonum.org/v1/gonum/dsp/fourier"
)

// UnitOrder maps a ground motion unit to its derivative order relative to
// displacement: 0 for displacement, 1 for velocity, 2 for acceleration.
func UnitOrder(units string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(units)) {
	case domain.UnitsDisplacement, "M", "NM":
		return 0, nil
	case domain.UnitsVelocity, "M/S", "NM/S":
		return 1, nil
	case domain.UnitsAcceleration, "M/S**2", "M/S/S", "M/S2", "NM/S**2":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported units %q", units)
	}
}

// RemoveResponse deconvolves the instrument response from x (counts) and
// returns ground motion in the output units. The inverse spectrum is
// stabilized with a water level given in dB below its maximum amplitude;
// a negative or NaN water level disables the clipping.
func RemoveResponse(x []float64, samplingRate float64, resp domain.Response, output string, waterLevel float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, errors.New("remove response: empty trace")
	}
	if resp.Sensitivity == 0 || math.IsNaN(resp.Sensitivity) || math.IsInf(resp.Sensitivity, 0) {
		return nil, errors.New("remove response: invalid sensitivity")
	}
	inOrder, err := UnitOrder(resp.InputUnits)
	if err != nil {
		return nil, fmt.Errorf("remove response: input: %w", err)
	}
	outOrder, err := UnitOrder(output)
	if err != nil {
		return nil, fmt.Errorf("remove response: output: %w", err)
	}

	a0 := resp.NormalizationFactor
	if a0 == 0 {
		a0 = normalizationFactor(resp)
	}

	n := len(x)
	nfft := NextPow2(2 * n)
	fft := fourier.NewFFT(nfft)
	coeff := fft.Coefficients(nil, ZeroPad(x, nfft))

	h := make([]complex128, len(coeff))
	var maxAbs float64
	for k := range h {
		w := 2 * math.Pi * float64(k) * samplingRate / float64(nfft)
		h[k] = complex(a0*resp.Sensitivity, 0) * paz(resp, complex(0, w)) * unitConversion(w, inOrder-outOrder)
		if a := cmplx.Abs(h[k]); a > maxAbs && !math.IsInf(a, 0) {
			maxAbs = a
		}
	}
	if maxAbs == 0 || math.IsNaN(maxAbs) {
		return nil, errors.New("remove response: response is zero everywhere")
	}

	water := 0.0
	if waterLevel >= 0 {
		water = maxAbs * math.Pow(10, -waterLevel/20)
	}
	for k, hk := range h {
		a := cmplx.Abs(hk)
		if math.IsNaN(a) || math.IsInf(a, 0) {
			coeff[k] = 0
			continue
		}
		if a < water {
			if a == 0 {
				hk = complex(water, 0)
			} else {
				hk *= complex(water/a, 0)
			}
		}
		if hk == 0 {
			coeff[k] = 0
			continue
		}
		coeff[k] /= hk
	}

	out := fft.Sequence(nil, coeff)
	scale := 1 / float64(nfft)
	out = out[:n]
	for i := range out {
		out[i] *= scale
	}
	if !AllFinite(out) {
		return nil, errors.New("remove response: non-finite output")
	}
	return out, nil
}

// paz evaluates prod(s - z) / prod(s - p).
func paz(resp domain.Response, s complex128) complex128 {
	h := complex(1, 0)
	for _, z := range resp.Zeros {
		h *= s - z.C()
	}
	for _, p := range resp.Poles {
		h /= s - p.C()
	}
	return h
}

// normalizationFactor returns the A0 that makes the poles and zeros
// response unity at the normalization frequency, or 1 when none is set.
func normalizationFactor(resp domain.Response) float64 {
	if resp.NormalizationFrequency <= 0 {
		return 1
	}
	a := cmplx.Abs(paz(resp, complex(0, 2*math.Pi*resp.NormalizationFrequency)))
	if a == 0 || math.IsInf(a, 0) || math.IsNaN(a) {
		return 1
	}
	return 1 / a
}

// unitConversion returns (i w)^order. A positive order differentiates the
// ground motion seen by the sensor, a negative one integrates it.
func unitConversion(w float64, order int) complex128 {
	iw := complex(0, w)
	c := complex(1, 0)
	for i := 0; i < order; i++ {
		c *= iw
	}
	for i := 0; i > order; i-- {
		if w == 0 {
			return 0
		}
		c /= iw
	}
	return c
}
