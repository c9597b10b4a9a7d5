package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParseRawWaveform deserializes a RawWaveform's value into a WaveformInput
// and checks the fields every later stage relies on.
func ParseRawWaveform(raw RawWaveform) (WaveformInput, error) {
	var in WaveformInput
	if err := json.Unmarshal(raw.Value, &in); err != nil {
		return WaveformInput{}, fmt.Errorf("parse raw waveform: %w", err)
	}
	if err := in.validate(); err != nil {
		return WaveformInput{}, fmt.Errorf("parse raw waveform: %w", err)
	}
	return in, nil
}

func (in WaveformInput) validate() error {
	if in.Event.ID == "" {
		return errors.New("missing event id")
	}
	if in.Station.Network == "" || in.Station.Station == "" {
		return errors.New("missing station identifier")
	}
	if in.ArrivalTime.IsZero() {
		return errors.New("missing arrival time")
	}
	for i, tr := range in.Traces {
		if tr.SamplingRate <= 0 {
			return fmt.Errorf("trace %d: sampling rate must be positive", i)
		}
	}
	if in.EventWaveformCount < 0 {
		return errors.New("event waveform count must not be negative")
	}
	return nil
}

// Identify returns a measurement carrying only the identifying metadata of
// the input. Estimation fills in the numeric fields.
func (in WaveformInput) Identify() WaveformMeasurement {
	return WaveformMeasurement{
		EventID:          in.Event.ID,
		Network:          in.Station.Network,
		Station:          in.Station.Station,
		Location:         in.Station.Location,
		Channel:          in.Station.Channel,
		DistanceDeg:      in.Distance(),
		StationLatitude:  in.Station.Latitude,
		StationLongitude: in.Station.Longitude,
		StationElevation: in.Station.Elevation,
	}
}
