package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/me-compute/internal/config"
	"github.com/couchcryptid/me-compute/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// maxMessageBytes bounds a single fetch. Waveform messages carry full traces
// and run to a few megabytes.
const maxMessageBytes = 50 << 20

// Reader consumes raw waveform messages from the source topic.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a consumer-group reader for the configured source topic.
// Offsets are committed explicitly through each RawWaveform's Commit.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSourceTopic,
		MinBytes: 1,
		MaxBytes: maxMessageBytes,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch fetches messages until batchSize is reached or the flush
// interval elapses. An empty batch is not an error; it lets the pipeline
// release idle events while the topic is quiet.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawWaveform, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	batch := make([]domain.RawWaveform, 0, batchSize)
	for len(batch) < batchSize {
		msg, err := r.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}
		raw := mapMessageToRawWaveform(msg)
		// Commits may be held until the event is released; keep only the
		// position, not the payload.
		pos := kafkago.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset}
		raw.Commit = func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, pos)
		}
		batch = append(batch, raw)
	}
	if len(batch) > 0 {
		r.logger.Debug("batch fetched", "batch_size", len(batch), "topic", batch[0].Topic)
	}
	return batch, nil
}

// Close closes the underlying consumer.
func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawWaveform(msg kafkago.Message) domain.RawWaveform {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawWaveform{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
