package estimator

import "math"

// Medium holds the crustal properties used to convert the corrected spectral
// integral into radiated energy.
type Medium struct {
	Density float64 // kg/m^3
	VP      float64 // m/s
	VS      float64 // m/s
}

// Depth tiers in km. A depth equal to a bound belongs to the deeper tier.
const (
	ShallowDepthLimit = 10.0
	MiddleDepthLimit  = 18.0
)

var (
	shallowMedium = Medium{Density: 2800, VP: 6500, VS: 3850}
	middleMedium  = Medium{Density: 2920, VP: 6800, VS: 3900}
	deepMedium    = Medium{Density: 3641, VP: 8035.5, VS: 4483.9}
)

// DefaultEnergyScaleFactor is the empirical factor k in
// energy = k * (costP + costS) * integral.
const DefaultEnergyScaleFactor = 2.0

// MediumAt returns the medium of the tier containing depthKm.
func MediumAt(depthKm float64) Medium {
	switch {
	case depthKm < ShallowDepthLimit:
		return shallowMedium
	case depthKm < MiddleDepthLimit:
		return middleMedium
	default:
		return deepMedium
	}
}

// Energy converts a corrected squared-velocity spectral integral into
// radiated energy in joules.
func Energy(depthKm, integral, scale float64) float64 {
	m := MediumAt(depthKm)
	costP := 1 / (15 * math.Pi * m.Density * math.Pow(m.VP, 5))
	costS := 1 / (10 * math.Pi * m.Density * math.Pow(m.VS, 5))
	return scale * (costP + costS) * integral
}

// Magnitude returns the energy magnitude 2/3 (log10(E) - 4.4).
func Magnitude(energy float64) float64 {
	return 2.0 / 3.0 * (math.Log10(energy) - 4.4)
}
