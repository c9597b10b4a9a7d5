package domain

import (
	"math"
	"time"
)

// WaveformMeasurement is one station channel's contribution to one event.
// Me is nil when any numeric step failed; Rejection then holds the reason.
type WaveformMeasurement struct {
	EventID          string   `json:"event_id"`
	Network          string   `json:"network"`
	Station          string   `json:"station"`
	Location         string   `json:"location"`
	Channel          string   `json:"channel"`
	DistanceDeg      float64  `json:"station_event_distance_deg"`
	StationLatitude  float64  `json:"station_latitude"`
	StationLongitude float64  `json:"station_longitude"`
	StationElevation float64  `json:"station_elevation"`
	Me               *float64 `json:"station_energy_magnitude"`
	SNR              float64  `json:"signal_to_noise_ratio"`
	SpectralIntegral float64  `json:"signal_corrected_spectrum_velocity_squared_integral"`
	AnomalyScore     *float64 `json:"signal_amplitude_anomaly_score"`
	IsSaturated      bool     `json:"signal_is_saturated"`
	SamplingRate     float64  `json:"signal_sampling_rate"`
	Rejection        string   `json:"rejection,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// ChannelID returns the SEED identifier NET.STA.LOC.CHA.
func (m WaveformMeasurement) ChannelID() string {
	return m.Network + "." + m.Station + "." + m.Location + "." + m.Channel
}

// MeValue returns Me, or NaN when absent.
func (m WaveformMeasurement) MeValue() float64 {
	return valueOrNaN(m.Me)
}

// Score returns the anomaly score, or NaN when absent.
func (m WaveformMeasurement) Score() float64 {
	return valueOrNaN(m.AnomalyScore)
}

// EventAggregate summarizes the station measurements of one event.
// Me and MeStdDev are nil exactly when WaveformsUsed is zero.
type EventAggregate struct {
	EventID       string   `json:"event_id"`
	Me            *float64 `json:"Me"`
	MeStdDev      *float64 `json:"Me_stddev"`
	WaveformsUsed int      `json:"Me_waveforms_used"`
	StationsTotal int      `json:"stations"`
	Waveforms     int      `json:"waveforms"`
	Statistic     string   `json:"statistic"`

	Magnitude     float64   `json:"magnitude"`
	MagnitudeType string    `json:"magnitude_type,omitempty"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	DepthKm       float64   `json:"depth_km"`
	Time          time.Time `json:"time"`

	ProcessedAt time.Time `json:"processed_at"`
}

// WithEvent copies the event metadata into the aggregate.
func (a EventAggregate) WithEvent(ev EventInfo) EventAggregate {
	a.Magnitude = ev.Magnitude
	a.MagnitudeType = ev.MagnitudeType
	a.Latitude = ev.Latitude
	a.Longitude = ev.Longitude
	a.DepthKm = ev.DepthKm
	a.Time = ev.Time
	return a
}

// StationResidual is the difference between a station's Me and the event Me.
type StationResidual struct {
	EventID     string   `json:"event_id"`
	Network     string   `json:"network"`
	Station     string   `json:"station"`
	StationMe   *float64 `json:"station_energy_magnitude"`
	Residual    *float64 `json:"residual"`
	DistanceDeg float64  `json:"station_event_distance_deg"`
	Latitude    float64  `json:"station_latitude"`
	Longitude   float64  `json:"station_longitude"`
}

// EventResult pairs an aggregate with its station residuals.
type EventResult struct {
	Aggregate EventAggregate    `json:"aggregate"`
	Residuals []StationResidual `json:"residuals"`
}

// ResultBatch is the unit handed to loaders.
type ResultBatch struct {
	Measurements []WaveformMeasurement
	Events       []EventResult
}

// Empty reports whether the batch carries nothing to load.
func (b ResultBatch) Empty() bool {
	return len(b.Measurements) == 0 && len(b.Events) == 0
}

// Float returns a pointer to v, or nil when v is not finite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func valueOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
