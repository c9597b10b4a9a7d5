package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/me-compute/internal/aggregate"
	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/observability"
	"github.com/couchcryptid/me-compute/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// scriptedExtractor returns one scripted step per call. Once the script is
// exhausted it reports io.EOF.
type scriptedExtractor struct {
	steps []func() ([]domain.RawWaveform, error)
	calls atomic.Int64
}

func (m *scriptedExtractor) ExtractBatch(_ context.Context, _ int) ([]domain.RawWaveform, error) {
	i := int(m.calls.Add(1) - 1)
	if i >= len(m.steps) {
		return nil, io.EOF
	}
	return m.steps[i]()
}

func batches(bs ...[]domain.RawWaveform) *scriptedExtractor {
	ext := &scriptedExtractor{}
	for _, b := range bs {
		ext.steps = append(ext.steps, func() ([]domain.RawWaveform, error) { return b, nil })
	}
	return ext
}

// stubEstimator gives every station Me 5, or the error configured for it.
type stubEstimator struct {
	errs  map[string]error
	calls atomic.Int64
}

func (m *stubEstimator) Estimate(_ context.Context, in domain.WaveformInput) (domain.WaveformMeasurement, error) {
	m.calls.Add(1)
	out := in.Identify()
	if err := m.errs[in.Station.Station]; err != nil {
		out.Rejection, _ = domain.RejectionReason(err)
		return out, err
	}
	out.Me = domain.Float(5)
	return out, nil
}

type mockLoader struct {
	mu      sync.Mutex
	batches []domain.ResultBatch
	failN   int
}

func (m *mockLoader) LoadBatch(_ context.Context, batch domain.ResultBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("sink unavailable")
	}
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockLoader) measurements() []domain.WaveformMeasurement {
	var out []domain.WaveformMeasurement
	for _, b := range m.batches {
		out = append(out, b.Measurements...)
	}
	return out
}

func (m *mockLoader) events() []domain.EventResult {
	var out []domain.EventResult
	for _, b := range m.batches {
		out = append(out, b.Events...)
	}
	return out
}

func newTestPipeline(ext pipeline.BatchExtractor, est pipeline.Estimator, ldr pipeline.BatchLoader, metrics *observability.Metrics) *pipeline.Pipeline {
	agg := aggregate.New(aggregate.Unweighted{}, aggregate.DefaultPrecision, slog.Default())
	return pipeline.New(ext, est, agg, ldr, slog.Default(), metrics, pipeline.Options{
		BatchSize:    10,
		Workers:      4,
		EventTimeout: 2 * time.Minute,
	})
}

// --- tests ---

func TestPipeline_Run_CompleteEvent(t *testing.T) {
	commits := &commitLog{}
	raws := []domain.RawWaveform{
		commits.raw(makeRaw(t, "ev-1", "AAA", 3), 0),
		commits.raw(makeRaw(t, "ev-1", "BBB", 3), 1),
		commits.raw(makeRaw(t, "ev-1", "CCC", 3), 2),
	}

	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := newTestPipeline(batches(raws), &stubEstimator{}, ldr, metrics)

	require.Error(t, p.CheckReadiness(context.Background()))
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, ldr.batches, 1)
	assert.Len(t, ldr.measurements(), 3)
	events := ldr.events()
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].Aggregate.EventID)
	require.NotNil(t, events[0].Aggregate.Me)
	assert.InDelta(t, 5.0, *events[0].Aggregate.Me, 1e-12)
	assert.Equal(t, 3, events[0].Aggregate.StationsTotal)
	assert.Len(t, events[0].Residuals, 3)

	// Commits are cumulative, so the last offset covers the batch.
	assert.Equal(t, []int64{2}, commits.offsets())
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 3.0, counterValue(t, metrics.WaveformsConsumed))
	assert.Equal(t, 3.0, counterValue(t, metrics.MeasurementsProduced))
	assert.Equal(t, 1.0, counterValue(t, metrics.EventsAggregated.WithLabelValues(observability.OutcomeComplete)))
}

func TestPipeline_Run_DrainsOnEOF(t *testing.T) {
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	ext := batches(
		[]domain.RawWaveform{makeRaw(t, "ev-1", "AAA", 5)},
		[]domain.RawWaveform{makeRaw(t, "ev-2", "AAA", 0), makeRaw(t, "ev-1", "BBB", 5)},
	)
	p := newTestPipeline(ext, &stubEstimator{}, ldr, metrics)

	require.NoError(t, p.Run(context.Background()))

	events := ldr.events()
	require.Len(t, events, 2)
	// Drained events are released in id order.
	assert.Equal(t, "ev-1", events[0].Aggregate.EventID)
	assert.Equal(t, 2, events[0].Aggregate.Waveforms)
	assert.Equal(t, "ev-2", events[1].Aggregate.EventID)
	assert.Equal(t, 2.0, counterValue(t, metrics.EventsAggregated.WithLabelValues(observability.OutcomeDrained)))
}

func TestPipeline_Run_ReleasesIdleEventsAfterTimeout(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() { domain.SetClock(nil) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ext := &scriptedExtractor{steps: []func() ([]domain.RawWaveform, error){
		func() ([]domain.RawWaveform, error) {
			return []domain.RawWaveform{makeRaw(t, "ev-1", "AAA", 3)}, nil
		},
		func() ([]domain.RawWaveform, error) {
			fakeClock.Advance(time.Minute)
			return nil, nil
		},
		func() ([]domain.RawWaveform, error) {
			fakeClock.Advance(90 * time.Second)
			return nil, nil
		},
		func() ([]domain.RawWaveform, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := newTestPipeline(ext, &stubEstimator{}, ldr, metrics)

	require.NoError(t, p.Run(ctx))

	// First batch loads the measurement, the idle event follows once the
	// timeout has elapsed.
	require.Len(t, ldr.batches, 2)
	assert.Empty(t, ldr.batches[0].Events)
	require.Len(t, ldr.batches[1].Events, 1)
	assert.Empty(t, ldr.batches[1].Measurements)
	assert.Equal(t, "ev-1", ldr.batches[1].Events[0].Aggregate.EventID)
	assert.Equal(t, fakeClock.Now().UTC(), ldr.batches[1].Events[0].Aggregate.ProcessedAt)
	assert.Equal(t, 1.0, counterValue(t, metrics.EventsAggregated.WithLabelValues(observability.OutcomeTimeout)))
}

func TestPipeline_Run_HoldsCommitsForPendingEvents(t *testing.T) {
	commits := &commitLog{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var heldBack []int64
	ext := &scriptedExtractor{steps: []func() ([]domain.RawWaveform, error){
		func() ([]domain.RawWaveform, error) {
			return []domain.RawWaveform{
				commits.raw(makeRaw(t, "ev-1", "AAA", 2), 0),
				commits.raw(makeRaw(t, "ev-2", "AAA", 1), 1),
			}, nil
		},
		func() ([]domain.RawWaveform, error) {
			return []domain.RawWaveform{commits.raw(makeRaw(t, "ev-3", "AAA", 1), 2)}, nil
		},
		func() ([]domain.RawWaveform, error) {
			heldBack = commits.offsets()
			return []domain.RawWaveform{commits.raw(makeRaw(t, "ev-1", "BBB", 2), 3)}, nil
		},
		func() ([]domain.RawWaveform, error) {
			cancel()
			return nil, ctx.Err()
		},
	}}
	ldr := &mockLoader{}
	p := newTestPipeline(ext, &stubEstimator{}, ldr, observability.NewMetricsForTesting())

	require.NoError(t, p.Run(ctx))

	// ev-2 and ev-3 were loaded first, but ev-1 at offset 0 was still pending.
	assert.Empty(t, heldBack)
	assert.Equal(t, []int64{3}, commits.offsets())
	assert.Len(t, ldr.events(), 3)
}

func TestPipeline_Run_RejectionsCountTowardsEvent(t *testing.T) {
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	est := &stubEstimator{errs: map[string]error{
		"BBB": domain.Reject(domain.ErrLowSNR, "snr 1.2 below 3"),
		"CCC": domain.Reject(domain.ErrDistanceOutOfRange, "200 deg"),
	}}
	raws := []domain.RawWaveform{
		makeRaw(t, "ev-1", "AAA", 3),
		makeRaw(t, "ev-1", "BBB", 3),
		makeRaw(t, "ev-1", "CCC", 3),
	}
	p := newTestPipeline(batches(raws), est, ldr, metrics)

	require.NoError(t, p.Run(context.Background()))

	ms := ldr.measurements()
	require.Len(t, ms, 3)
	assert.NotNil(t, ms[0].Me)
	assert.Nil(t, ms[1].Me)
	assert.Equal(t, domain.ReasonLowSNR, ms[1].Rejection)
	assert.Equal(t, domain.ReasonDistanceOutOfRange, ms[2].Rejection)

	events := ldr.events()
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Aggregate.StationsTotal)
	assert.Equal(t, 1, events[0].Aggregate.Waveforms)
	assert.Equal(t, 1, events[0].Aggregate.WaveformsUsed)

	assert.Equal(t, 1.0, counterValue(t, metrics.Rejections.WithLabelValues(domain.ReasonLowSNR)))
	assert.Equal(t, 1.0, counterValue(t, metrics.Rejections.WithLabelValues(domain.ReasonDistanceOutOfRange)))
	assert.Equal(t, 1.0, counterValue(t, metrics.EventsAggregated.WithLabelValues(observability.OutcomeComplete)))
}

func TestPipeline_Run_AllRejectedEventIsEmpty(t *testing.T) {
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	est := &stubEstimator{errs: map[string]error{
		"AAA": domain.Reject(domain.ErrMultipleTraces, "2 traces"),
	}}
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	agg := aggregate.New(aggregate.Unweighted{}, aggregate.DefaultPrecision, logger)
	p := pipeline.New(batches([]domain.RawWaveform{makeRaw(t, "ev-1", "AAA", 1)}), est, agg, ldr, logger, metrics, pipeline.Options{
		BatchSize:    10,
		Workers:      1,
		EventTimeout: time.Minute,
	})

	require.NoError(t, p.Run(context.Background()))

	events := ldr.events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Aggregate.Me)
	assert.Equal(t, 1.0, counterValue(t, metrics.EventsAggregated.WithLabelValues(observability.OutcomeEmpty)))
	assert.Zero(t, counterValue(t, metrics.EventsAggregated.WithLabelValues(observability.OutcomeComplete)))
	assert.Contains(t, logs.String(), `"msg":"event aggregated","event_id":"ev-1","outcome":"empty"`)
}

func TestPipeline_Run_FatalErrorStops(t *testing.T) {
	var committed atomic.Bool
	raw := makeRaw(t, "ev-1", "AAA", 1)
	raw.Commit = func(context.Context) error {
		committed.Store(true)
		return nil
	}
	est := &stubEstimator{errs: map[string]error{
		"AAA": fmt.Errorf("%w: no grid for 120 s windows", domain.ErrMissingFrequencyDistanceTable),
	}}
	ldr := &mockLoader{}
	p := newTestPipeline(batches([]domain.RawWaveform{raw}, []domain.RawWaveform{makeRaw(t, "ev-2", "AAA", 1)}), est, ldr, observability.NewMetricsForTesting())

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMissingFrequencyDistanceTable)
	assert.Contains(t, err.Error(), "XX.AAA..BHZ")
	assert.Empty(t, ldr.batches)
	assert.False(t, committed.Load())
	assert.Equal(t, int64(1), est.calls.Load())
}

func TestPipeline_Run_DecodeErrorSkipsMessage(t *testing.T) {
	var committed atomic.Bool
	bad := domain.RawWaveform{Value: []byte("not json"), Topic: "raw-waveforms", Offset: 7}
	bad.Commit = func(context.Context) error {
		committed.Store(true)
		return nil
	}
	ldr := &mockLoader{}
	metrics := observability.NewMetricsForTesting()
	p := newTestPipeline(batches([]domain.RawWaveform{bad, makeRaw(t, "ev-1", "AAA", 1)}), &stubEstimator{}, ldr, metrics)

	require.NoError(t, p.Run(context.Background()))

	assert.Len(t, ldr.measurements(), 1)
	assert.True(t, committed.Load())
	assert.Equal(t, 1.0, counterValue(t, metrics.DecodeErrors))
}

func TestPipeline_Run_RetriesLoad(t *testing.T) {
	ldr := &mockLoader{failN: 1}
	p := newTestPipeline(batches([]domain.RawWaveform{makeRaw(t, "ev-1", "AAA", 1)}), &stubEstimator{}, ldr, observability.NewMetricsForTesting())

	require.NoError(t, p.Run(context.Background()))

	require.Len(t, ldr.batches, 1)
	assert.Len(t, ldr.batches[0].Measurements, 1)
	assert.Len(t, ldr.batches[0].Events, 1)
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &scriptedExtractor{steps: []func() ([]domain.RawWaveform, error){
		func() ([]domain.RawWaveform, error) { return nil, errors.New("broker down") },
		func() ([]domain.RawWaveform, error) {
			return []domain.RawWaveform{makeRaw(t, "ev-1", "AAA", 1)}, nil
		},
	}}
	ldr := &mockLoader{}
	p := newTestPipeline(ext, &stubEstimator{}, ldr, observability.NewMetricsForTesting())

	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, ldr.measurements(), 1)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := newTestPipeline(batches([]domain.RawWaveform{makeRaw(t, "ev-1", "AAA", 1)}), &stubEstimator{}, ldr, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.batches)
	assert.Error(t, p.CheckReadiness(ctx))
}

func TestPipeline_Run_KeepsInputOrderAcrossWorkers(t *testing.T) {
	var raws []domain.RawWaveform
	for i := range 40 {
		raws = append(raws, makeRaw(t, "ev-1", fmt.Sprintf("S%02d", i), 40))
	}
	ldr := &mockLoader{}
	est := &stubEstimator{}
	agg := aggregate.New(aggregate.Unweighted{}, aggregate.DefaultPrecision, slog.Default())
	p := pipeline.New(batches(raws), est, agg, ldr, slog.Default(), observability.NewMetricsForTesting(), pipeline.Options{
		BatchSize:    40,
		Workers:      8,
		EventTimeout: time.Minute,
	})

	require.NoError(t, p.Run(context.Background()))

	ms := ldr.measurements()
	require.Len(t, ms, 40)
	for i, m := range ms {
		assert.Equal(t, fmt.Sprintf("S%02d", i), m.Station)
	}
	assert.Equal(t, int64(40), est.calls.Load())
	require.Len(t, ldr.events(), 1)
}

// --- helpers ---

func makeRaw(t *testing.T, eventID, station string, count int) domain.RawWaveform {
	t.Helper()
	origin := time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)
	distance := 45.0
	data, err := json.Marshal(domain.WaveformInput{
		Event: domain.EventInfo{ID: eventID, Time: origin, DepthKm: 10, Magnitude: 6},
		Station: domain.StationInfo{
			Network: "XX",
			Station: station,
			Channel: "BHZ",
		},
		ArrivalTime: origin.Add(8 * time.Minute),
		DistanceDeg: &distance,
		Traces: []domain.Trace{{
			StartTime:    origin,
			SamplingRate: 20,
			Samples:      []float64{0, 1, 0, -1},
		}},
		EventWaveformCount: count,
	})
	require.NoError(t, err)
	return domain.RawWaveform{
		Key:   []byte(eventID),
		Value: data,
		Topic: "raw-waveforms",
	}
}

// commitLog records committed offsets of a single partition.
type commitLog struct {
	mu        sync.Mutex
	committed []int64
}

func (c *commitLog) raw(raw domain.RawWaveform, offset int64) domain.RawWaveform {
	raw.Offset = offset
	raw.Commit = func(context.Context) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.committed = append(c.committed, offset)
		return nil
	}
	return raw
}

func (c *commitLog) offsets() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.committed)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
