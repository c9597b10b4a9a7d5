// Package estimator computes the station energy magnitude of one waveform:
// preprocessing, signal/noise windowing, spectra, SNR gating, calibration
// correction, energy integration and diagnostics.
package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/me-compute/internal/calibration"
	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/spectral"
	"gonum.org/v1/gonum/integrate"
)

const (
	// preprocessTaper is the cosine taper fraction applied around filtering
	// and to each window.
	preprocessTaper = 0.05
	// minWindowSamples is the FFT length windows are zero-padded to.
	minWindowSamples = 8192
	// snrFreqMin is the lower bound of the SNR band in Hz.
	snrFreqMin = 0.001
	// fullScale is the 24-bit digitizer full scale in counts.
	fullScale = 1 << 23
)

// Config holds the processing parameters of the estimator.
type Config struct {
	BandpassFreqMin         float64
	BandpassFreqMax         float64
	BandpassCorners         int
	BandpassMaxNyquistRatio float64

	ResponseOutput     string
	ResponseWaterLevel float64

	ArrivalTimeShift  time.Duration
	SNRThreshold      float64
	AmpRatioThreshold float64

	SpectrumType         string
	SmoothingWindowRatio float64
	SpectrumTaper        float64

	EnergyScaleFactor float64

	Durations calibration.DurationTable
	Table     *calibration.Table
}

// AnomalyScorer scores the raw trace of a waveform. Errors are not fatal;
// the measurement then carries no score.
type AnomalyScorer interface {
	Score(ctx context.Context, in domain.WaveformInput) (float64, error)
}

// Estimator is safe for concurrent use.
type Estimator struct {
	cfg    Config
	scorer AnomalyScorer
}

// New creates an estimator. scorer may be nil.
func New(cfg Config, scorer AnomalyScorer) (*Estimator, error) {
	if cfg.Table == nil {
		return nil, errors.New("estimator: frequency/distance table is required")
	}
	if cfg.EnergyScaleFactor == 0 {
		cfg.EnergyScaleFactor = DefaultEnergyScaleFactor
	}
	return &Estimator{cfg: cfg, scorer: scorer}, nil
}

// Estimate computes the measurement of one waveform. On a rejection the
// returned measurement still carries the station identity, no Me and the
// rejection reason; err then matches one of the domain rejection sentinels.
// An error for which domain.IsFatal holds must stop the run.
func (e *Estimator) Estimate(ctx context.Context, in domain.WaveformInput) (domain.WaveformMeasurement, error) {
	m := in.Identify()
	m.ProcessedAt = domain.Clock().Now().UTC()
	if len(in.Traces) > 0 {
		m.SamplingRate = in.Traces[0].SamplingRate
	}

	r, err := e.measure(in, m.DistanceDeg)
	if err != nil {
		if reason, ok := domain.RejectionReason(err); ok {
			m.Rejection = reason
		}
		return m, err
	}
	m.Me = domain.Float(r.me)
	// A silent noise window gives an infinite SNR; keep outputs JSON-encodable.
	m.SNR = min(r.snr, math.MaxFloat64)
	m.SpectralIntegral = r.integral

	raw := in.Traces[0]
	m.AnomalyScore = e.score(ctx, in)
	m.IsSaturated = Saturated(raw, e.cfg.AmpRatioThreshold)
	return m, nil
}

type result struct {
	me       float64
	snr      float64
	integral float64
}

func (e *Estimator) measure(in domain.WaveformInput, distance float64) (result, error) {
	if n := len(in.Traces); n != 1 {
		return result{}, domain.Reject(domain.ErrMultipleTraces, "%d traces, gaps or overlaps in the recording", n)
	}
	tr := in.Traces[0]

	duration := e.cfg.Durations.Duration(in.Event.Magnitude)
	bucket, err := e.cfg.Table.Bucket(duration)
	if err != nil {
		return result{}, err
	}
	if lo, hi := e.cfg.Table.DistanceRange(); !(distance >= lo && distance <= hi) {
		return result{}, domain.Reject(domain.ErrDistanceOutOfRange, "%.3f deg outside [%g, %g]", distance, lo, hi)
	}

	vel, err := e.preprocess(tr, in.Response)
	if err != nil {
		return result{}, domain.Reject(domain.ErrPreprocess, "%v", err)
	}

	arrival := in.ArrivalTime.Add(e.cfg.ArrivalTimeShift)
	d := time.Duration(duration) * time.Second
	signal := window(vel, tr.StartTime, tr.Delta(), arrival, arrival.Add(d))
	noise := window(vel, tr.StartTime, tr.Delta(), arrival.Add(-d), arrival)
	if len(signal) == 0 || len(noise) == 0 {
		return result{}, domain.Reject(domain.ErrPreprocess, "signal or noise window outside the trace")
	}

	dfS, sigSpec, err := e.spectrum(signal, tr.Delta())
	if err != nil {
		return result{}, domain.Reject(domain.ErrPreprocess, "signal spectrum: %v", err)
	}
	dfN, noiseSpec, err := e.spectrum(noise, tr.Delta())
	if err != nil {
		return result{}, domain.Reject(domain.ErrPreprocess, "noise spectrum: %v", err)
	}

	snr := spectral.SNR(sigSpec, noiseSpec, e.cfg.SpectrumType, snrFreqMin, e.cfg.BandpassFreqMax, dfS, dfN)
	if !(snr >= e.cfg.SNRThreshold) {
		return result{}, domain.Reject(domain.ErrLowSNR, "snr %.3f below %.3f", snr, e.cfg.SNRThreshold)
	}

	logSpec, err := interpolate(sigSpec, tr.Delta(), dfS, bucket.Frequencies())
	if err != nil {
		return result{}, err
	}

	correction, err := bucket.Correction(distance)
	if err != nil {
		return result{}, err
	}
	corrected := make([]float64, len(logSpec))
	for j := range logSpec {
		v := math.Pow(10, logSpec[j]-correction[j])
		corrected[j] = v * v
	}

	integral := integrate.Trapezoidal(bucket.Frequencies(), corrected)
	me := Magnitude(Energy(in.Event.DepthKm, integral, e.cfg.EnergyScaleFactor))
	if math.IsNaN(me) || math.IsInf(me, 0) {
		return result{}, domain.Reject(domain.ErrNonFiniteMagnitude, "integral %g gives Me %v", integral, me)
	}
	return result{me: me, snr: snr, integral: integral}, nil
}

// preprocess returns the filtered ground motion of the trace in the
// configured output units.
func (e *Estimator) preprocess(tr domain.Trace, resp domain.Response) ([]float64, error) {
	if len(tr.Samples) < 2 {
		return nil, fmt.Errorf("trace has %d samples", len(tr.Samples))
	}
	if !spectral.AllFinite(tr.Samples) {
		return nil, errors.New("trace has non-finite samples")
	}
	x := slices.Clone(tr.Samples)
	spectral.Demean(x)
	spectral.Detrend(x)
	spectral.CosineTaper(x, preprocessTaper)

	high := math.Min(e.cfg.BandpassFreqMax, e.cfg.BandpassMaxNyquistRatio*tr.SamplingRate/2)
	bp, err := spectral.NewBandpass(e.cfg.BandpassFreqMin, high, tr.SamplingRate, e.cfg.BandpassCorners)
	if err != nil {
		return nil, err
	}
	bp.Apply(x)
	if !spectral.AllFinite(x) {
		return nil, errors.New("non-finite samples after filtering")
	}
	spectral.CosineTaper(x, preprocessTaper)

	return spectral.RemoveResponse(x, tr.SamplingRate, resp, e.cfg.ResponseOutput, e.cfg.ResponseWaterLevel)
}

// window copies the samples between from and to, both inclusive and rounded
// to the nearest sample, then tapers and zero-pads the copy.
func window(x []float64, start time.Time, delta float64, from, to time.Time) []float64 {
	i := int(math.Round(from.Sub(start).Seconds() / delta))
	j := int(math.Round(to.Sub(start).Seconds()/delta)) + 1
	i = max(i, 0)
	j = min(j, len(x))
	if i >= j {
		return nil
	}
	w := slices.Clone(x[i:j])
	spectral.CosineTaper(w, preprocessTaper)
	return spectral.ZeroPad(w, max(minWindowSamples, spectral.NextPow2(len(w))))
}

func (e *Estimator) spectrum(x []float64, delta float64) (float64, []float64, error) {
	if e.cfg.SpectrumTaper > 0 {
		spectral.CosineTaper(x, e.cfg.SpectrumTaper)
	}
	df, spec, err := spectral.Spectrum(x, delta, e.cfg.SpectrumType)
	if err != nil {
		return 0, nil, err
	}
	if e.cfg.SmoothingWindowRatio > 0 {
		spec = spectral.TriangSmooth(spec, e.cfg.SmoothingWindowRatio)
	}
	return df, spec, nil
}

// interpolate resamples the delta-scaled signal spectrum onto the canonical
// frequencies and returns its log10.
func interpolate(spec []float64, delta, df float64, frequencies []float64) ([]float64, error) {
	scaled := make([]float64, len(spec))
	for i, v := range spec {
		scaled[i] = v * delta
	}
	n := len(scaled)
	s, err := spectral.NewSpline(spectral.Linspace(0, float64(n)*df, n), scaled)
	if err != nil {
		return nil, domain.Reject(domain.ErrSplineConstruction, "%v", err)
	}
	out := s.AtAll(frequencies)
	for j, v := range out {
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, domain.Reject(domain.ErrSplineConstruction, "amplitude %g at %g Hz", v, frequencies[j])
		}
		out[j] = math.Log10(v)
	}
	return out, nil
}

func (e *Estimator) score(ctx context.Context, in domain.WaveformInput) *float64 {
	if e.scorer == nil {
		return nil
	}
	s, err := e.scorer.Score(ctx, in)
	if err != nil {
		return nil
	}
	return domain.Float(s)
}

// Saturated reports whether the peak of the raw trace reaches threshold as
// a fraction of the 24-bit full scale. NaN samples are ignored.
func Saturated(raw domain.Trace, threshold float64) bool {
	peak := raw.MaxAbs()
	if math.IsNaN(peak) {
		return false
	}
	return peak/fullScale >= threshold
}
