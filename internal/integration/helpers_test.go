//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/me-compute/internal/config"
	"github.com/couchcryptid/me-compute/internal/synthetic"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("me-compute-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func loadProcess(t *testing.T) *config.Process {
	t.Helper()
	proc, err := config.LoadProcess("../../config/process.yaml")
	require.NoError(t, err)
	return proc
}

// waveformMessages encodes one synthetic recording per distance for each event.
func waveformMessages(t *testing.T, eventIDs []string, distances []float64) []kafkago.Message {
	t.Helper()
	var msgs []kafkago.Message
	for i, id := range eventIDs {
		for _, in := range synthetic.Event(synthetic.Options{EventID: id, DepthKm: 10, Seed: uint64(i * 10)}, distances) {
			payload, err := json.Marshal(in)
			require.NoError(t, err)
			msgs = append(msgs, kafkago.Message{
				Key:   []byte(id + "/" + in.Station.ChannelID()),
				Value: payload,
				Time:  synthetic.Origin,
			})
		}
	}
	return msgs
}

func newSinkConsumer(t *testing.T, broker, topic string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     "test-sink-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// sinkMessage holds a deserialized message read from a sink topic.
type sinkMessage[T any] struct {
	Value   T
	Key     string
	Headers map[string]string
}

func readSink[T any](ctx context.Context, t *testing.T, consumer *kafkago.Reader) sinkMessage[T] {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var v T
	require.NoError(t, json.Unmarshal(msg.Value, &v), "unmarshal sink message")
	return sinkMessage[T]{Value: v, Key: string(msg.Key), Headers: headers}
}
