package domain

import (
	"context"
	"math"
	"time"
)

// RawWaveform represents an unprocessed message from the source.
type RawWaveform struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Trace is one continuous, evenly sampled time series in raw counts.
type Trace struct {
	StartTime    time.Time `json:"start_time"`
	SamplingRate float64   `json:"sampling_rate"`
	Samples      []float64 `json:"samples"`
}

// Delta returns the sampling interval in seconds.
func (t Trace) Delta() float64 {
	return 1 / t.SamplingRate
}

// EndTime returns the time of the last sample.
func (t Trace) EndTime() time.Time {
	if len(t.Samples) == 0 {
		return t.StartTime
	}
	return t.StartTime.Add(seconds(float64(len(t.Samples)-1) * t.Delta()))
}

// MaxAbs returns the largest absolute sample value, ignoring NaNs.
// It returns NaN when the trace holds no finite sample.
func (t Trace) MaxAbs() float64 {
	m := math.NaN()
	for _, v := range t.Samples {
		if math.IsNaN(v) {
			continue
		}
		if a := math.Abs(v); math.IsNaN(m) || a > m {
			m = a
		}
	}
	return m
}

// Complex is a JSON-friendly complex number used for poles and zeros.
type Complex struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

// C converts to a complex128.
func (c Complex) C() complex128 { return complex(c.Re, c.Im) }

// Ground motion units understood by response removal.
const (
	UnitsDisplacement = "DISP"
	UnitsVelocity     = "VEL"
	UnitsAcceleration = "ACC"
)

// Response is a single-stage poles-and-zeros instrument response in the
// Laplace domain (radians per second), scaled by the overall sensitivity in
// counts per input unit.
type Response struct {
	InputUnits             string    `json:"input_units"`
	NormalizationFactor    float64   `json:"normalization_factor"`
	NormalizationFrequency float64   `json:"normalization_frequency"`
	Sensitivity            float64   `json:"sensitivity"`
	Poles                  []Complex `json:"poles"`
	Zeros                  []Complex `json:"zeros"`
}

// EventInfo carries the event metadata needed by the estimator and echoed in
// the aggregate.
type EventInfo struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	DepthKm       float64   `json:"depth_km"`
	Magnitude     float64   `json:"magnitude"`
	MagnitudeType string    `json:"magnitude_type,omitempty"`
}

// StationInfo identifies a recording channel and its location.
type StationInfo struct {
	Network   string  `json:"network"`
	Station   string  `json:"station"`
	Location  string  `json:"location"`
	Channel   string  `json:"channel"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

// ChannelID returns the SEED identifier NET.STA.LOC.CHA.
func (s StationInfo) ChannelID() string {
	return s.Network + "." + s.Station + "." + s.Location + "." + s.Channel
}

// WaveformInput is everything the estimator needs for one station channel
// and one event.
type WaveformInput struct {
	Event       EventInfo   `json:"event"`
	Station     StationInfo `json:"station"`
	ArrivalTime time.Time   `json:"arrival_time"`
	// DistanceDeg is the epicentral distance. When nil it is derived from
	// the event and station coordinates.
	DistanceDeg *float64 `json:"distance_deg,omitempty"`
	Traces      []Trace  `json:"traces"`
	Response    Response `json:"response"`
	// EventWaveformCount is the number of waveforms selected upstream for
	// the event. Zero means unknown.
	EventWaveformCount int `json:"event_waveform_count,omitempty"`
}

// Distance returns the epicentral distance in degrees.
func (in WaveformInput) Distance() float64 {
	if in.DistanceDeg != nil {
		return *in.DistanceDeg
	}
	return EpicentralDistance(in.Event.Latitude, in.Event.Longitude, in.Station.Latitude, in.Station.Longitude)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
