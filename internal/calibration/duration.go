package calibration

import (
	"errors"
	"fmt"
)

// DefaultDuration is the window length in seconds used when no magnitude
// range matches.
const DefaultDuration = 90

// DurationRange assigns Duration seconds to magnitudes in [Min, Max).
type DurationRange struct {
	Min      float64
	Max      float64
	Duration int
}

// DurationTable is an ordered list of ranges. The first match wins.
type DurationTable []DurationRange

// Duration returns the window duration for an event magnitude.
func (t DurationTable) Duration(magnitude float64) int {
	for _, r := range t {
		if r.Min <= magnitude && magnitude < r.Max {
			return r.Duration
		}
	}
	return DefaultDuration
}

// Reachable returns every duration Duration can return, default included.
func (t DurationTable) Reachable() []int {
	seen := map[int]bool{DefaultDuration: true}
	out := []int{DefaultDuration}
	for _, r := range t {
		if !seen[r.Duration] {
			seen[r.Duration] = true
			out = append(out, r.Duration)
		}
	}
	return out
}

// CheckCoverage returns an error naming every reachable duration the table
// has no grid for.
func (t *Table) CheckCoverage(durations DurationTable) error {
	var errs []error
	for _, d := range durations.Reachable() {
		if _, err := t.Bucket(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseDurationTable converts [min, max, duration] triplets.
func ParseDurationTable(triplets [][]float64) (DurationTable, error) {
	out := make(DurationTable, 0, len(triplets))
	for i, tr := range triplets {
		if len(tr) != 3 {
			return nil, fmt.Errorf("magrange2duration[%d]: want [min, max, duration], got %d values", i, len(tr))
		}
		if !(tr[0] < tr[1]) {
			return nil, fmt.Errorf("magrange2duration[%d]: min must be below max", i)
		}
		d := int(tr[2])
		if d <= 0 || float64(d) != tr[2] {
			return nil, fmt.Errorf("magrange2duration[%d]: duration must be a positive whole number of seconds", i)
		}
		out = append(out, DurationRange{Min: tr[0], Max: tr[1], Duration: d})
	}
	return out, nil
}
