package aggregate

import (
	"fmt"
	"math"
)

// Statistic names as used in configuration and output records.
const (
	StatisticUnweighted = "me"
	StatisticTrimmed    = "me_p"
	StatisticThreshold  = "me_t"
	StatisticLinear     = "me_w"
	StatisticParabolic  = "me_w2"
)

// Defaults of the production statistic and the anomaly score model.
const (
	DefaultLowPercentile  = 5.0
	DefaultHighPercentile = 95.0
	DefaultScoreThreshold = 0.75
)

// Strategy computes event statistics from station magnitudes and their
// anomaly scores. scores may be nil or shorter than values; missing scores
// count as NaN.
type Strategy interface {
	Name() string
	Compute(values, scores []float64) Stats
}

// ScoreCalibration is the score range of the anomaly model in use. Weights
// map Min to 1 and Max to 0.
type ScoreCalibration struct {
	Min float64
	Max float64
}

// DefaultScoreCalibration matches the currently deployed amplitude anomaly
// model.
var DefaultScoreCalibration = ScoreCalibration{Min: 0.41729107098205132, Max: 0.86059521298447561}

// Options selects and parameterizes a strategy.
type Options struct {
	Statistic      string
	LowPercentile  float64
	HighPercentile float64
	ScoreThreshold float64
	Calibration    ScoreCalibration
}

// NewStrategy returns the strategy named by opts.Statistic.
func NewStrategy(opts Options) (Strategy, error) {
	switch opts.Statistic {
	case StatisticTrimmed, "":
		if !(opts.LowPercentile >= 0 && opts.LowPercentile < opts.HighPercentile && opts.HighPercentile <= 100) {
			return nil, fmt.Errorf("aggregate: invalid percentiles [%g, %g]", opts.LowPercentile, opts.HighPercentile)
		}
		return TrimmedMean{Low: opts.LowPercentile, High: opts.HighPercentile}, nil
	case StatisticUnweighted:
		return Unweighted{}, nil
	case StatisticThreshold:
		return ScoreThreshold{Cutoff: opts.ScoreThreshold}, nil
	case StatisticLinear, StatisticParabolic:
		if !(opts.Calibration.Max > opts.Calibration.Min) {
			return nil, fmt.Errorf("aggregate: score calibration max %g must exceed min %g", opts.Calibration.Max, opts.Calibration.Min)
		}
		if opts.Statistic == StatisticLinear {
			return LinearWeighting{Calibration: opts.Calibration}, nil
		}
		return ParabolicWeighting{Calibration: opts.Calibration}, nil
	default:
		return nil, fmt.Errorf("aggregate: unknown statistic %q", opts.Statistic)
	}
}

// Unweighted uses every finite value.
type Unweighted struct{}

func (Unweighted) Name() string { return StatisticUnweighted }

func (Unweighted) Compute(values, _ []float64) Stats {
	return avgStdCount(values, nil)
}

// TrimmedMean keeps the finite values within the [Low, High] percentiles,
// bounds included.
type TrimmedMean struct {
	Low  float64
	High float64
}

func (TrimmedMean) Name() string { return StatisticTrimmed }

func (t TrimmedMean) Compute(values, _ []float64) Stats {
	vs := finite(values)
	if len(vs) == 0 {
		return absent
	}
	p := Percentiles(vs, t.Low, t.High)
	kept := make([]float64, 0, len(vs))
	for _, v := range vs {
		if v >= p[0] && v <= p[1] {
			kept = append(kept, v)
		}
	}
	return avgStdCount(kept, nil)
}

// ScoreThreshold keeps values whose anomaly score is below Cutoff. Values
// without a score are dropped.
type ScoreThreshold struct {
	Cutoff float64
}

func (ScoreThreshold) Name() string { return StatisticThreshold }

func (s ScoreThreshold) Compute(values, scores []float64) Stats {
	kept := make([]float64, 0, len(values))
	for i, v := range values {
		if at(scores, i) < s.Cutoff {
			kept = append(kept, v)
		}
	}
	return avgStdCount(kept, nil)
}

// LinearWeighting weights each value by its inverted, normalized score.
type LinearWeighting struct {
	Calibration ScoreCalibration
}

func (LinearWeighting) Name() string { return StatisticLinear }

func (l LinearWeighting) Compute(values, scores []float64) Stats {
	return avgStdCount(values, weights(values, scores, func(s float64) float64 {
		return LinearWeight(s, l.Calibration)
	}))
}

// ParabolicWeighting gives full weight to scores up to 0.5 and decreases
// along a parabola that reaches zero at the calibration maximum.
type ParabolicWeighting struct {
	Calibration ScoreCalibration
}

func (ParabolicWeighting) Name() string { return StatisticParabolic }

func (p ParabolicWeighting) Compute(values, scores []float64) Stats {
	return avgStdCount(values, weights(values, scores, func(s float64) float64 {
		return ParabolicWeight(s, p.Calibration)
	}))
}

// LinearWeight maps a score to clip(1 - (s-min)/(max-min), 0, 1). A NaN
// score gives a NaN weight.
func LinearWeight(score float64, cal ScoreCalibration) float64 {
	return clip(1 - (score-cal.Min)/(cal.Max-cal.Min))
}

// ParabolicWeight maps a score to 1 up to 0.5, then to a s^2 + b s + c with
// vertex (0.5, 1) through (max, 0), clipped to [0, 1]. A NaN score gives a
// NaN weight.
func ParabolicWeight(score float64, cal ScoreCalibration) float64 {
	if score <= 0.5 {
		return 1
	}
	b := 1 / (cal.Max*cal.Max - cal.Max + 0.25)
	a := -b
	c := 1 - b/4
	return clip(a*score*score + b*score + c)
}

// weights converts scores, or returns nil (uniform weights) when no score
// is finite.
func weights(values, scores []float64, convert func(float64) float64) []float64 {
	ws := make([]float64, len(values))
	scored := false
	for i := range values {
		s := at(scores, i)
		if isFinite(s) {
			scored = true
		}
		ws[i] = convert(s)
	}
	if !scored {
		return nil
	}
	return ws
}

func clip(w float64) float64 {
	if math.IsNaN(w) {
		return w
	}
	return math.Max(0, math.Min(1, w))
}
