// Package aggregate combines the station energy magnitudes of one event into
// a single robust value. Every statistic policy reduces to the same weighted
// mean and weighted population variance over the jointly finite subset of
// values and weights.
package aggregate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats is the outcome of a statistic. Count is zero exactly when the
// result is absent; Mean and StdDev are then NaN.
type Stats struct {
	Mean   float64
	StdDev float64
	Count  int
}

var absent = Stats{Mean: math.NaN(), StdDev: math.NaN()}

// Valid reports whether the statistic produced a value.
func (s Stats) Valid() bool {
	return s.Count > 0 && isFinite(s.Mean)
}

// avgStdCount returns the weighted mean, population standard deviation and
// count of values. A nil weights slice means uniform weights. Pairs where
// either side is non-finite are dropped first; a zero total weight is absent.
func avgStdCount(values, weights []float64) Stats {
	vs := make([]float64, 0, len(values))
	var ws []float64
	if weights != nil {
		ws = make([]float64, 0, len(values))
	}
	for i, v := range values {
		if !isFinite(v) {
			continue
		}
		if weights != nil {
			w := at(weights, i)
			if !isFinite(w) {
				continue
			}
			ws = append(ws, w)
		}
		vs = append(vs, v)
	}
	if len(vs) == 0 {
		return absent
	}
	if ws != nil && floats.Sum(ws) == 0 {
		return absent
	}

	mean, variance := stat.PopMeanVariance(vs, ws)
	if !isFinite(mean) {
		return absent
	}
	return Stats{Mean: mean, StdDev: math.Sqrt(variance), Count: len(vs)}
}

// Percentiles returns the percentiles ps (0 to 100) of the finite values,
// interpolating linearly between closest ranks. It returns NaNs when no
// value is finite.
func Percentiles(values []float64, ps ...float64) []float64 {
	sorted := finite(values)
	sort.Float64s(sorted)

	out := make([]float64, len(ps))
	for i, p := range ps {
		if len(sorted) == 0 {
			out[i] = math.NaN()
			continue
		}
		p = math.Max(0, math.Min(100, p))
		index := p / 100 * float64(len(sorted)-1)
		lower := int(math.Floor(index))
		upper := int(math.Ceil(index))
		if lower == upper {
			out[i] = sorted[lower]
			continue
		}
		weight := index - float64(lower)
		out[i] = sorted[lower]*(1-weight) + sorted[upper]*weight
	}
	return out
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if isFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// at returns xs[i], or NaN past the end of xs.
func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return math.NaN()
}
