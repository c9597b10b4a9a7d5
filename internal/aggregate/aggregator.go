package aggregate

import (
	"cmp"
	"log/slog"
	"slices"

	"github.com/couchcryptid/me-compute/internal/domain"
	"gonum.org/v1/gonum/floats/scalar"
)

// DefaultPrecision is the number of decimals event Me and its standard
// deviation are rounded to.
const DefaultPrecision = 2

// Aggregator turns the station measurements of one event into an event
// result. It is stateless and safe for concurrent use: the same measurements
// always give the same result. Callers stamp ProcessedAt.
type Aggregator struct {
	strategy  Strategy
	precision int
	logger    *slog.Logger
}

// New creates an aggregator. A negative precision disables rounding.
func New(strategy Strategy, precision int, logger *slog.Logger) *Aggregator {
	return &Aggregator{strategy: strategy, precision: precision, logger: logger}
}

// Statistic returns the name of the configured strategy.
func (a *Aggregator) Statistic() string {
	return a.strategy.Name()
}

// Aggregate computes the event statistic over the measurements.
func (a *Aggregator) Aggregate(eventID string, ms []domain.WaveformMeasurement) domain.EventAggregate {
	agg, _ := a.aggregate(eventID, sorted(ms))
	return agg
}

// Residuals returns one residual per distinct network and station, in
// station order. Each uses the first measurement of the station, so pass
// the unrounded event mean. The residual is absent when either magnitude is.
func (a *Aggregator) Residuals(ms []domain.WaveformMeasurement, eventMe float64) []domain.StationResidual {
	return residuals(sorted(ms), eventMe)
}

// Summarize aggregates the measurements of ev and derives the station
// residuals from the unrounded event mean.
func (a *Aggregator) Summarize(ev domain.EventInfo, ms []domain.WaveformMeasurement) domain.EventResult {
	ms = sorted(ms)
	agg, stats := a.aggregate(ev.ID, ms)
	agg = agg.WithEvent(ev)
	if !stats.Valid() {
		a.logger.Warn("no usable station magnitudes for event",
			"event_id", ev.ID,
			"stations", agg.StationsTotal,
			"waveforms", len(ms),
		)
	}
	return domain.EventResult{
		Aggregate: agg,
		Residuals: residuals(ms, stats.Mean),
	}
}

func (a *Aggregator) aggregate(eventID string, ms []domain.WaveformMeasurement) (domain.EventAggregate, Stats) {
	values := make([]float64, len(ms))
	scores := make([]float64, len(ms))
	stations := make(map[[2]string]struct{}, len(ms))
	waveforms := 0
	for i, m := range ms {
		values[i] = m.MeValue()
		scores[i] = m.Score()
		stations[[2]string{m.Network, m.Station}] = struct{}{}
		if m.Me != nil {
			waveforms++
		}
	}

	stats := a.strategy.Compute(values, scores)
	agg := domain.EventAggregate{
		EventID:       eventID,
		StationsTotal: len(stations),
		Waveforms:     waveforms,
		Statistic:     a.strategy.Name(),
	}
	if stats.Valid() {
		agg.Me = domain.Float(a.round(stats.Mean))
		agg.MeStdDev = domain.Float(a.round(stats.StdDev))
		agg.WaveformsUsed = stats.Count
	}
	return agg, stats
}

func (a *Aggregator) round(v float64) float64 {
	if a.precision < 0 {
		return v
	}
	return scalar.RoundEven(v, a.precision)
}

func residuals(ms []domain.WaveformMeasurement, eventMe float64) []domain.StationResidual {
	out := make([]domain.StationResidual, 0, len(ms))
	seen := make(map[[2]string]bool, len(ms))
	for _, m := range ms {
		key := [2]string{m.Network, m.Station}
		if seen[key] {
			continue
		}
		seen[key] = true

		r := domain.StationResidual{
			EventID:     m.EventID,
			Network:     m.Network,
			Station:     m.Station,
			StationMe:   m.Me,
			DistanceDeg: m.DistanceDeg,
			Latitude:    m.StationLatitude,
			Longitude:   m.StationLongitude,
		}
		if m.Me != nil {
			r.Residual = domain.Float(*m.Me - eventMe)
		}
		out = append(out, r)
	}
	return out
}

// sorted returns a copy ordered by channel so results do not depend on the
// order measurements arrived in.
func sorted(ms []domain.WaveformMeasurement) []domain.WaveformMeasurement {
	out := slices.Clone(ms)
	slices.SortStableFunc(out, func(a, b domain.WaveformMeasurement) int {
		return cmp.Or(
			cmp.Compare(a.Network, b.Network),
			cmp.Compare(a.Station, b.Station),
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.Channel, b.Channel),
		)
	})
	return out
}
