package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/me-compute/internal/config"
	"github.com/couchcryptid/me-compute/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes station measurements and event results to their topics.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer           *kafkago.Writer
	logger           *slog.Logger
	measurementTopic string
	eventTopic       string
}

// NewWriter creates a Kafka producer. The topic is set per message.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{
		writer:           w,
		logger:           logger,
		measurementTopic: cfg.KafkaMeasurementTopic,
		eventTopic:       cfg.KafkaEventTopic,
	}
}

// LoadBatch serializes the batch and publishes it in a single WriteMessages
// call.
func (w *Writer) LoadBatch(ctx context.Context, batch domain.ResultBatch) error {
	if batch.Empty() {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(batch.Measurements)+len(batch.Events))
	for i := range batch.Measurements {
		msg, err := serializeMeasurement(batch.Measurements[i], w.measurementTopic)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	for i := range batch.Events {
		msg, err := serializeEvent(batch.Events[i], w.eventTopic)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	w.logger.Debug("batch published", "batch_size", len(batch.Measurements), "events", len(batch.Events))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeMeasurement keys a measurement by event and channel so replays of
// the same waveform land on the same partition.
func serializeMeasurement(m domain.WaveformMeasurement, topic string) (kafkago.Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize measurement: %w", err)
	}
	return kafkago.Message{
		Topic:   topic,
		Key:     []byte(m.EventID + "/" + m.ChannelID()),
		Value:   data,
		Headers: headers(m.EventID, m.ProcessedAt),
	}, nil
}

func serializeEvent(ev domain.EventResult, topic string) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize event result: %w", err)
	}
	return kafkago.Message{
		Topic:   topic,
		Key:     []byte(ev.Aggregate.EventID),
		Value:   data,
		Headers: headers(ev.Aggregate.EventID, ev.Aggregate.ProcessedAt),
	}, nil
}

func headers(eventID string, processedAt time.Time) []kafkago.Header {
	return []kafkago.Header{
		{Key: "event_id", Value: []byte(eventID)},
		{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
	}
}
