package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor reads up to batchSize raw waveforms from the source. A finite
// source returns io.EOF once exhausted, optionally alongside a final batch.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawWaveform, error)
}

// Estimator computes one station measurement.
type Estimator interface {
	Estimate(ctx context.Context, in domain.WaveformInput) (domain.WaveformMeasurement, error)
}

// Aggregator summarizes the measurements of a released event.
type Aggregator interface {
	Summarize(ev domain.EventInfo, ms []domain.WaveformMeasurement) domain.EventResult
}

// BatchLoader writes measurements and event results to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, batch domain.ResultBatch) error
}

// Options tunes batching and the event barrier.
type Options struct {
	BatchSize    int
	Workers      int
	EventTimeout time.Duration
}

// Pipeline orchestrates the extract, estimate, aggregate and load loop.
type Pipeline struct {
	extractor  BatchExtractor
	estimator  Estimator
	aggregator Aggregator
	loader     BatchLoader
	collector  *collector
	offsets    *offsetTracker
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
	batchSize  int
	workers    int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, est Estimator, agg Aggregator, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		extractor:  e,
		estimator:  est,
		aggregator: agg,
		loader:     l,
		collector:  newCollector(opts.EventTimeout),
		offsets:    newOffsetTracker(),
		logger:     logger,
		metrics:    metrics,
		batchSize:  opts.BatchSize,
		workers:    opts.Workers,
	}
}

// CheckReadiness returns nil once the pipeline has loaded at least one batch,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any waveforms yet")
	}
	return nil
}

// Run executes the batch loop until the context is cancelled or a finite
// source is exhausted. It returns an error only when a fatal configuration
// problem makes further processing pointless.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize, "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err(),
				"pending_events", p.collector.size(), "uncommitted", p.offsets.pending())
			return nil
		default:
		}

		cont, err := p.processBatch(ctx, &backoff)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// processBatch runs one cycle. It returns false when the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) (bool, error) {
	start := time.Now()

	rawBatch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	eof := errors.Is(err, io.EOF)
	if err != nil && !eof {
		if ctx.Err() != nil {
			return false, nil
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff), nil
	}
	*backoff = initialBackoff

	if len(rawBatch) > 0 {
		p.metrics.WaveformsConsumed.Add(float64(len(rawBatch)))
		p.metrics.BatchSize.Observe(float64(len(rawBatch)))
	}

	inputs, sources, outcomes, err := p.estimateBatch(ctx, rawBatch)
	if err != nil {
		return false, err
	}

	batch := domain.ResultBatch{Measurements: make([]domain.WaveformMeasurement, 0, len(outcomes))}
	var releases []released
	for i, m := range outcomes {
		batch.Measurements = append(batch.Measurements, m)
		if r, ok := p.collector.add(inputs[i], m, sources[i], domain.Clock().Now()); ok {
			releases = append(releases, r)
		}
	}
	releases = append(releases, p.collector.expire(domain.Clock().Now())...)
	if eof {
		releases = append(releases, p.collector.drain()...)
	}
	for _, r := range releases {
		batch.Events = append(batch.Events, p.summarize(r))
	}

	if !batch.Empty() {
		if !p.load(ctx, batch, backoff) {
			return false, nil
		}
		p.metrics.MeasurementsProduced.Add(float64(len(batch.Measurements)))
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}

	for _, r := range releases {
		for _, src := range r.sources {
			src.settled = true
		}
	}
	for _, m := range p.offsets.committable() {
		p.commitOffset(ctx, m)
	}

	if eof {
		p.logger.Info("source exhausted", "events", len(batch.Events))
		return false, nil
	}
	return ctx.Err() == nil, nil
}

// estimateBatch decodes the batch and estimates every waveform on the worker
// pool. Every message is tracked for commit; undecodable ones are logged,
// dropped and settled at once. Outcomes keep the input order, and sources
// holds the tracked message of each input. A fatal estimator error aborts the
// batch.
func (p *Pipeline) estimateBatch(ctx context.Context, rawBatch []domain.RawWaveform) ([]domain.WaveformInput, []*trackedMessage, []domain.WaveformMeasurement, error) {
	inputs := make([]domain.WaveformInput, 0, len(rawBatch))
	sources := make([]*trackedMessage, 0, len(rawBatch))
	for _, raw := range rawBatch {
		src := p.offsets.track(raw)
		in, err := domain.ParseRawWaveform(raw)
		if err != nil {
			src.settled = true
			p.logger.Warn("decode failed, skipping message",
				"error", err,
				"topic", raw.Topic,
				"partition", raw.Partition,
				"offset", raw.Offset,
			)
			p.metrics.DecodeErrors.Inc()
			continue
		}
		inputs = append(inputs, in)
		sources = append(sources, src)
	}

	outcomes := make([]domain.WaveformMeasurement, len(inputs))
	errs := make([]error, len(inputs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(p.workers, len(inputs)) {
		wg.Go(func() {
			for i := range jobs {
				start := time.Now()
				outcomes[i], errs[i] = p.estimator.Estimate(ctx, inputs[i])
				p.metrics.EstimateDuration.Observe(time.Since(start).Seconds())
			}
		})
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if domain.IsFatal(err) {
			p.logger.Error("fatal estimation error, stopping", "error", err,
				"event_id", inputs[i].Event.ID, "station", outcomes[i].ChannelID())
			return nil, nil, nil, fmt.Errorf("estimate %s for event %s: %w", outcomes[i].ChannelID(), inputs[i].Event.ID, err)
		}
		p.logRejection(ctx, outcomes[i], err)
	}
	return inputs, sources, outcomes, nil
}

func (p *Pipeline) logRejection(ctx context.Context, m domain.WaveformMeasurement, err error) {
	reason := m.Rejection
	if reason == "" {
		reason = "unknown"
	}
	p.metrics.Rejections.WithLabelValues(reason).Inc()

	level := slog.LevelWarn
	if reason == domain.ReasonLowSNR {
		level = slog.LevelDebug
	}
	p.logger.Log(ctx, level, "waveform rejected",
		"error", err,
		"reason", reason,
		"event_id", m.EventID,
		"station", m.ChannelID(),
	)
}

func (p *Pipeline) summarize(r released) domain.EventResult {
	res := p.aggregator.Summarize(r.event, r.measurements)
	res.Aggregate.ProcessedAt = domain.Clock().Now().UTC()
	outcome := r.outcome
	if res.Aggregate.Me == nil {
		outcome = observability.OutcomeEmpty
	}
	p.metrics.EventsAggregated.WithLabelValues(outcome).Inc()
	p.logger.Info("event aggregated",
		"event_id", r.event.ID,
		"outcome", outcome,
		"waveforms", res.Aggregate.Waveforms,
		"waveforms_used", res.Aggregate.WaveformsUsed,
	)
	return res
}

// load retries the batch with backoff until it succeeds. The collector has
// already released its events, so the batch must not be dropped. Returns
// false if the context ends first.
func (p *Pipeline) load(ctx context.Context, batch domain.ResultBatch, backoff *time.Duration) bool {
	for {
		err := p.loader.LoadBatch(ctx, batch)
		if err == nil {
			*backoff = initialBackoff
			return true
		}
		p.logger.Error("load batch failed", "error", err,
			"batch_size", len(batch.Measurements), "events", len(batch.Events))
		if !p.backoffOrStop(ctx, backoff) {
			return false
		}
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits a message offset, and with it every earlier offset of
// the partition.
func (p *Pipeline) commitOffset(ctx context.Context, m *trackedMessage) {
	if err := m.commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", m.topic, "partition", m.partition, "offset", m.offset)
	}
}
