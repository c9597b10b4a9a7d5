package domain

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEventID = "evt-20240426-001"

func TestParseRawWaveform(t *testing.T) {
	t.Run("complete message", func(t *testing.T) {
		data := []byte(`{
			"event": {"id":"evt-20240426-001","time":"2024-04-26T12:00:00Z","latitude":42.1,"longitude":13.4,"depth_km":8.5,"magnitude":5.1,"magnitude_type":"Mw"},
			"station": {"network":"IV","station":"ARRO","location":"","channel":"HHZ","latitude":42.58,"longitude":12.77,"elevation":253},
			"arrival_time": "2024-04-26T12:00:15Z",
			"distance_deg": 0.65,
			"traces": [{"start_time":"2024-04-26T11:58:00Z","sampling_rate":20,"samples":[1,2,3]}],
			"response": {"input_units":"VEL","normalization_factor":1,"sensitivity":6.29e8,"poles":[{"re":-0.037,"im":0.037}],"zeros":[{"re":0,"im":0}]},
			"event_waveform_count": 12
		}`)

		in, err := ParseRawWaveform(RawWaveform{Value: data})
		require.NoError(t, err)

		assert.Equal(t, testEventID, in.Event.ID)
		assert.Equal(t, 8.5, in.Event.DepthKm)
		assert.Equal(t, "ARRO", in.Station.Station)
		assert.Equal(t, 0.65, in.Distance())
		require.Len(t, in.Traces, 1)
		assert.Equal(t, 20.0, in.Traces[0].SamplingRate)
		assert.Equal(t, 0.05, in.Traces[0].Delta())
		assert.Equal(t, complex(-0.037, 0.037), in.Response.Poles[0].C())
		assert.Equal(t, 12, in.EventWaveformCount)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseRawWaveform(RawWaveform{Value: []byte("not json")})
		assert.Error(t, err)
	})

	t.Run("missing event id", func(t *testing.T) {
		_, err := ParseRawWaveform(RawWaveform{Value: []byte(`{"station":{"network":"IV","station":"ARRO"},"arrival_time":"2024-04-26T12:00:15Z"}`)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event id")
	})

	t.Run("non-positive sampling rate", func(t *testing.T) {
		in := validInput()
		in.Traces[0].SamplingRate = 0
		data, err := json.Marshal(in)
		require.NoError(t, err)

		_, err = ParseRawWaveform(RawWaveform{Value: data})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sampling rate")
	})
}

func TestWaveformInput_DistanceFromCoordinates(t *testing.T) {
	in := validInput()
	in.DistanceDeg = nil
	in.Event.Latitude, in.Event.Longitude = 0, 0
	in.Station.Latitude, in.Station.Longitude = 0, 45

	assert.InDelta(t, 45.0, in.Distance(), 1e-9)
}

func TestEpicentralDistance(t *testing.T) {
	assert.InDelta(t, 90.0, EpicentralDistance(0, 0, 90, 0), 1e-9)
	assert.InDelta(t, 180.0, EpicentralDistance(0, 0, 0, 180), 1e-9)
	assert.InDelta(t, 0.0, EpicentralDistance(42.1, 13.4, 42.1, 13.4), 1e-12)
}

func TestWaveformInput_Identify(t *testing.T) {
	in := validInput()
	m := in.Identify()

	assert.Equal(t, testEventID, m.EventID)
	assert.Equal(t, "IV.ARRO..HHZ", m.ChannelID())
	assert.Equal(t, 30.0, m.DistanceDeg)
	assert.Nil(t, m.Me)
	assert.True(t, math.IsNaN(m.MeValue()))
	assert.True(t, math.IsNaN(m.Score()))
}

func TestTrace_MaxAbsAndEndTime(t *testing.T) {
	start := time.Date(2024, 4, 26, 12, 0, 0, 0, time.UTC)
	tr := Trace{StartTime: start, SamplingRate: 10, Samples: []float64{1, -7, math.NaN(), 3}}

	assert.Equal(t, 7.0, tr.MaxAbs())
	assert.Equal(t, start.Add(300*time.Millisecond), tr.EndTime())
	assert.True(t, math.IsNaN(Trace{}.MaxAbs()))
}

func TestFloat(t *testing.T) {
	require.NotNil(t, Float(1.5))
	assert.Equal(t, 1.5, *Float(1.5))
	assert.Nil(t, Float(math.NaN()))
	assert.Nil(t, Float(math.Inf(1)))
}

func TestRejectionReason(t *testing.T) {
	err := Reject(ErrLowSNR, "snr %.2f below %.2f", 1.2, 3.0)

	reason, ok := RejectionReason(err)
	require.True(t, ok)
	assert.Equal(t, ReasonLowSNR, reason)
	assert.Contains(t, err.Error(), "snr 1.20 below 3.00")

	_, ok = RejectionReason(ErrMissingFrequencyDistanceTable)
	assert.False(t, ok)
	assert.True(t, IsFatal(ErrMissingFrequencyDistanceTable))
	assert.False(t, IsFatal(err))
}

func TestMeasurementJSON_AbsentValuesAreNull(t *testing.T) {
	m := validInput().Identify()
	m.Rejection = ReasonLowSNR

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"station_energy_magnitude":null`)
	assert.Contains(t, string(data), `"signal_amplitude_anomaly_score":null`)
	assert.Contains(t, string(data), `"rejection":"low-snr"`)
}

func validInput() WaveformInput {
	dist := 30.0
	return WaveformInput{
		Event:       EventInfo{ID: testEventID, DepthKm: 10, Magnitude: 5},
		Station:     StationInfo{Network: "IV", Station: "ARRO", Channel: "HHZ"},
		ArrivalTime: time.Date(2024, 4, 26, 12, 0, 15, 0, time.UTC),
		DistanceDeg: &dist,
		Traces:      []Trace{{SamplingRate: 20, Samples: []float64{0, 1, 0}}},
	}
}
