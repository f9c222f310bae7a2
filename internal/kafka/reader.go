package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"docpay-service/internal/config"
	"docpay-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var documentEventMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="document_event"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="document_event"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="document_event"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="document_event"}`),
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type DocumentEventProcessor interface {
	Process(ctx context.Context, event message.DocumentEvent) error
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.DocumentEvents,
	})
}

// ReadDocumentEvents consumes document pipeline events until ctx is done.
func ReadDocumentEvents(ctx context.Context, reader MessageReader, processor DocumentEventProcessor, logger *slog.Logger) error {
	return readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var e message.DocumentEvent
		if err := json.Unmarshal(value, &e); err != nil {
			logger.ErrorContext(ctx, "Error unmarshalling message", "error", err)
			documentEventMetrics.UnmarshalErrorCounter.Inc()
			return nil
		}
		return processor.Process(ctx, e)
	}, documentEventMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) error {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				logger.InfoContext(ctx, "Context done, stopping reader")
				return nil
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.DebugContext(ctx, "Received message", "topic", m.Topic, "offset", m.Offset, "value", string(m.Value))

		if err := process(ctx, m.Value); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
