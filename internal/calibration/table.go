// Package calibration holds the empirical frequency/distance attenuation
// table used to correct station spectra, and the magnitude to window
// duration lookup that selects which grid applies.
//
// # Table format
//
// A table has one frequency axis (Hz) and one distance axis (degrees), both
// strictly increasing, and one grid per window duration in seconds. Grid rows
// follow the distance axis and hold log10 amplitude corrections, one per
// frequency.
//
// The 60 s grid was calibrated on a coarser frequency resolution and skips
// the first frequency of the axis, so its rows are one value shorter. Every
// other grid spans the full axis. See [FrequencyOffset].
package calibration

import (
	"fmt"
	"slices"
	"sort"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/spectral"
)

// FrequencyOffset returns how many leading frequencies a grid for the given
// duration skips.
func FrequencyOffset(duration int) int {
	if duration == 60 {
		return 1
	}
	return 0
}

// Table is an immutable set of correction grids. It is safe for concurrent
// use.
type Table struct {
	frequencies []float64
	distances   []float64
	buckets     map[int]*Bucket
}

// Bucket is the correction grid of one window duration, with one spline per
// frequency column precomputed across the distance axis.
type Bucket struct {
	duration    int
	frequencies []float64
	distances   []float64
	rows        [][]float64
	columns     []*spectral.Spline
}

// NewTable validates the axes and grids and precomputes the distance
// splines of every bucket.
func NewTable(frequencies, distances []float64, grids map[int][][]float64) (*Table, error) {
	if err := increasing("frequencies", frequencies); err != nil {
		return nil, err
	}
	if err := increasing("distances", distances); err != nil {
		return nil, err
	}
	if len(distances) < 2 {
		return nil, fmt.Errorf("calibration: need at least two distances, got %d", len(distances))
	}

	t := &Table{
		frequencies: slices.Clone(frequencies),
		distances:   slices.Clone(distances),
		buckets:     make(map[int]*Bucket, len(grids)),
	}
	for duration, rows := range grids {
		b, err := newBucket(duration, t.frequencies, t.distances, rows)
		if err != nil {
			return nil, err
		}
		t.buckets[duration] = b
	}
	return t, nil
}

func newBucket(duration int, frequencies, distances []float64, rows [][]float64) (*Bucket, error) {
	offset := FrequencyOffset(duration)
	if len(frequencies)-offset < 2 {
		return nil, fmt.Errorf("calibration: %d s grid needs at least two frequencies", duration)
	}
	freqs := frequencies[offset:]
	if len(rows) != len(distances) {
		return nil, fmt.Errorf("calibration: %d s grid has %d rows, want one per distance (%d)", duration, len(rows), len(distances))
	}
	b := &Bucket{
		duration:    duration,
		frequencies: freqs,
		distances:   distances,
		rows:        make([][]float64, len(rows)),
		columns:     make([]*spectral.Spline, len(freqs)),
	}
	for i, row := range rows {
		if len(row) != len(freqs) {
			return nil, fmt.Errorf("calibration: %d s grid row %d has %d values, want %d", duration, i, len(row), len(freqs))
		}
		b.rows[i] = slices.Clone(row)
	}

	column := make([]float64, len(distances))
	for j := range freqs {
		for i := range distances {
			column[i] = b.rows[i][j]
		}
		s, err := spectral.NewSpline(distances, column)
		if err != nil {
			return nil, fmt.Errorf("calibration: %d s grid column %d: %w", duration, j, err)
		}
		b.columns[j] = s
	}
	return b, nil
}

// Bucket returns the grid for a window duration. A missing grid wraps
// domain.ErrMissingFrequencyDistanceTable.
func (t *Table) Bucket(duration int) (*Bucket, error) {
	b, ok := t.buckets[duration]
	if !ok {
		return nil, fmt.Errorf("%w: no grid for %d s windows", domain.ErrMissingFrequencyDistanceTable, duration)
	}
	return b, nil
}

// Durations returns the durations that have a grid, sorted.
func (t *Table) Durations() []int {
	out := make([]int, 0, len(t.buckets))
	for d := range t.buckets {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// DistanceRange returns the calibrated distance bounds in degrees.
func (t *Table) DistanceRange() (float64, float64) {
	return t.distances[0], t.distances[len(t.distances)-1]
}

// Duration returns the window duration of the bucket in seconds.
func (b *Bucket) Duration() int { return b.duration }

// Frequencies returns the canonical frequency axis of the bucket. The
// returned slice must not be modified.
func (b *Bucket) Frequencies() []float64 { return b.frequencies }

// Correction returns the log10 amplitude correction per canonical frequency
// at the given distance. An exact calibration distance returns a copy of the
// stored row; anything else is interpolated column by column. Distances
// outside the calibrated range are rejected with domain.ErrDistanceOutOfRange.
func (b *Bucket) Correction(distance float64) ([]float64, error) {
	lo, hi := b.distances[0], b.distances[len(b.distances)-1]
	if !(distance >= lo && distance <= hi) {
		return nil, domain.Reject(domain.ErrDistanceOutOfRange, "%.3f deg outside [%g, %g]", distance, lo, hi)
	}
	if i := sort.SearchFloat64s(b.distances, distance); b.distances[i] == distance {
		return slices.Clone(b.rows[i]), nil
	}
	out := make([]float64, len(b.columns))
	for j, s := range b.columns {
		out[j] = s.At(distance)
	}
	return out, nil
}

func increasing(name string, xs []float64) error {
	if len(xs) == 0 {
		return fmt.Errorf("calibration: %s must not be empty", name)
	}
	for i := 1; i < len(xs); i++ {
		if !(xs[i] > xs[i-1]) {
			return fmt.Errorf("calibration: %s must be strictly increasing (index %d)", name, i)
		}
	}
	return nil
}
