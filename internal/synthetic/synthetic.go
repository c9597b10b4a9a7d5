// Package synthetic builds deterministic waveform inputs for fixtures, demos
// and tests: a noise floor followed, from the arrival time on, by a sum of
// sines on a flat velocity response.
package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
)

// Origin is the default event origin time.
var Origin = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

// DefaultFrequencies are the sine frequencies of the signal, in Hz.
var DefaultFrequencies = []float64{0.05, 0.1, 0.2, 0.5, 1, 2}

// Sensitivity of the flat response in counts per m/s.
const Sensitivity = 1e9

// Options describes one synthetic recording. Zero fields take defaults.
type Options struct {
	EventID            string
	Magnitude          float64
	DepthKm            float64
	DistanceDeg        float64
	Network            string
	Station            string
	Channel            string
	SamplingRate       float64
	Length             time.Duration
	ArrivalOffset      time.Duration
	SignalAmplitude    float64
	NoiseAmplitude     float64
	Frequencies        []float64
	Seed               uint64
	EventWaveformCount int
	// Split cuts the trace in two, as a recording with a gap would be.
	Split bool
}

func (o Options) withDefaults() Options {
	if o.EventID == "" {
		o.EventID = "synthetic-001"
	}
	if o.Magnitude == 0 {
		o.Magnitude = 6
	}
	if o.DistanceDeg == 0 {
		o.DistanceDeg = 45
	}
	if o.Network == "" {
		o.Network = "XX"
	}
	if o.Station == "" {
		o.Station = "SYN1"
	}
	if o.Channel == "" {
		o.Channel = "BHZ"
	}
	if o.SamplingRate == 0 {
		o.SamplingRate = 20
	}
	if o.Length == 0 {
		o.Length = 10 * time.Minute
	}
	if o.ArrivalOffset == 0 {
		o.ArrivalOffset = 5 * time.Minute
	}
	if o.SignalAmplitude == 0 {
		o.SignalAmplitude = 1000
	}
	if o.NoiseAmplitude == 0 {
		o.NoiseAmplitude = 1
	}
	if o.Frequencies == nil {
		o.Frequencies = DefaultFrequencies
	}
	return o
}

// Waveform builds the input described by o.
func Waveform(o Options) domain.WaveformInput {
	o = o.withDefaults()
	rng := rand.New(rand.NewPCG(o.Seed, o.Seed^0x9e3779b97f4a7c15))

	n := int(o.Length.Seconds() * o.SamplingRate)
	arrival := int(o.ArrivalOffset.Seconds() * o.SamplingRate)
	samples := make([]float64, n)
	for i := range samples {
		v := o.NoiseAmplitude * rng.NormFloat64()
		if i >= arrival {
			t := float64(i-arrival) / o.SamplingRate
			for _, f := range o.Frequencies {
				v += o.SignalAmplitude * math.Sin(2*math.Pi*f*t)
			}
		}
		samples[i] = v
	}

	start := Origin
	traces := []domain.Trace{{StartTime: start, SamplingRate: o.SamplingRate, Samples: samples}}
	if o.Split {
		half := n / 2
		traces = []domain.Trace{
			{StartTime: start, SamplingRate: o.SamplingRate, Samples: samples[:half]},
			{
				StartTime:    start.Add(time.Duration(float64(half+10) / o.SamplingRate * float64(time.Second))),
				SamplingRate: o.SamplingRate,
				Samples:      samples[half+10:],
			},
		}
	}

	dist := o.DistanceDeg
	return domain.WaveformInput{
		Event: domain.EventInfo{
			ID:            o.EventID,
			Time:          Origin,
			Latitude:      0,
			Longitude:     0,
			DepthKm:       o.DepthKm,
			Magnitude:     o.Magnitude,
			MagnitudeType: "Mw",
		},
		Station: domain.StationInfo{
			Network:   o.Network,
			Station:   o.Station,
			Channel:   o.Channel,
			Latitude:  0,
			Longitude: dist,
		},
		ArrivalTime:        start.Add(o.ArrivalOffset),
		DistanceDeg:        &dist,
		Traces:             traces,
		Response:           domain.Response{InputUnits: domain.UnitsVelocity, NormalizationFactor: 1, Sensitivity: Sensitivity},
		EventWaveformCount: o.EventWaveformCount,
	}
}

// Event builds one recording per distance for a single event. Stations are
// named SYN1, SYN2, ... and every input carries the event's waveform count.
func Event(o Options, distances []float64) []domain.WaveformInput {
	out := make([]domain.WaveformInput, 0, len(distances))
	for i, d := range distances {
		so := o
		so.DistanceDeg = d
		so.Station = fmt.Sprintf("SYN%d", i+1)
		so.Seed = o.Seed + uint64(i)
		so.EventWaveformCount = len(distances)
		out = append(out, Waveform(so))
	}
	return out
}
