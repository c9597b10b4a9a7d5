package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// imagTol separates real from complex digital poles.
const imagTol = 1e-12

// Bandpass is a causal Butterworth bandpass filter realized as a cascade of
// second-order sections. A filter with n corners has 2n poles.
type Bandpass struct {
	sections []biquad
}

type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// NewBandpass designs a bandpass between low and high Hz for the given
// sampling rate. The analog prototype is mapped with the bilinear transform
// after prewarping both corners, and the gain is normalized to one at the
// (warped) center frequency.
func NewBandpass(low, high, samplingRate float64, corners int) (*Bandpass, error) {
	if corners < 1 {
		return nil, errors.New("bandpass: corners must be at least 1")
	}
	nyquist := samplingRate / 2
	if !(low > 0 && low < high && high < nyquist) {
		return nil, fmt.Errorf("bandpass: need 0 < low < high < nyquist, got low=%g high=%g nyquist=%g", low, high, nyquist)
	}

	fs2 := 2 * samplingRate
	wl := fs2 * math.Tan(math.Pi*low/samplingRate)
	wh := fs2 * math.Tan(math.Pi*high/samplingRate)
	bw := wh - wl
	w0sq := wl * wh

	var complexPoles []complex128
	var realPoles []float64
	for k := 0; k < corners; k++ {
		theta := math.Pi * float64(2*k+corners+1) / float64(2*corners)
		half := cmplx.Rect(1, theta) * complex(bw/2, 0)
		disc := cmplx.Sqrt(half*half - complex(w0sq, 0))
		for _, s := range []complex128{half + disc, half - disc} {
			z := (complex(fs2, 0) + s) / (complex(fs2, 0) - s)
			switch {
			case math.Abs(imag(z)) <= imagTol:
				realPoles = append(realPoles, real(z))
			case imag(z) > 0:
				complexPoles = append(complexPoles, z)
			}
		}
	}
	if len(realPoles)%2 != 0 || len(complexPoles)+len(realPoles)/2 != corners {
		return nil, errors.New("bandpass: unexpected pole layout")
	}

	sections := make([]biquad, 0, corners)
	for _, z := range complexPoles {
		sections = append(sections, biquad{b0: 1, b2: -1, a1: -2 * real(z), a2: real(z)*real(z) + imag(z)*imag(z)})
	}
	for i := 0; i < len(realPoles); i += 2 {
		r1, r2 := realPoles[i], realPoles[i+1]
		sections = append(sections, biquad{b0: 1, b2: -1, a1: -(r1 + r2), a2: r1 * r2})
	}

	f := &Bandpass{sections: sections}
	center := 2 * math.Atan(math.Sqrt(w0sq)/fs2)
	g := 1 / cmplx.Abs(f.response(center))
	f.sections[0].b0 *= g
	f.sections[0].b2 *= g
	return f, nil
}

// Apply filters x in place, starting from a zero state.
func (f *Bandpass) Apply(x []float64) {
	for _, s := range f.sections {
		var z1, z2 float64
		for i, v := range x {
			y := s.b0*v + z1
			z1 = s.b1*v - s.a1*y + z2
			z2 = s.b2*v - s.a2*y
			x[i] = y
		}
	}
}

// Gain returns the magnitude response at freq Hz.
func (f *Bandpass) Gain(freq, samplingRate float64) float64 {
	return cmplx.Abs(f.response(2 * math.Pi * freq / samplingRate))
}

// response evaluates the transfer function at normalized angular frequency w.
func (f *Bandpass) response(w float64) complex128 {
	zi := cmplx.Rect(1, -w)
	zi2 := zi * zi
	h := complex(1, 0)
	for _, s := range f.sections {
		num := complex(s.b0, 0) + complex(s.b1, 0)*zi + complex(s.b2, 0)*zi2
		den := 1 + complex(s.a1, 0)*zi + complex(s.a2, 0)*zi2
		h *= num / den
	}
	return h
}
