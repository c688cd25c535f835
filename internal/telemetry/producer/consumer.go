package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// HandlerFunc processes one Kafka message value. Errors are logged and the message is not retried.
type HandlerFunc func(ctx context.Context, value []byte) error

// Consumer reads telemetry events from a Kafka consumer group.
type Consumer struct {
	reader  messageReader
	log     *slog.Logger
	timeout time.Duration
}

// NewKafkaConsumer returns a Consumer for topic in groupID.
func NewKafkaConsumer(brokers []string, topic, groupID string, log *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	return newConsumer(reader, log)
}

func newConsumer(reader messageReader, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{reader: reader, log: log, timeout: 10 * time.Second}
}

// Run reads messages until ctx is cancelled, calling handle for each with a bounded context.
func (c *Consumer) Run(ctx context.Context, handle HandlerFunc) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WarnContext(ctx, "worker: kafka read error", "error", err)
			continue
		}
		handleCtx, cancel := context.WithTimeout(ctx, c.timeout)
		if err := handle(handleCtx, msg.Value); err != nil {
			c.log.WarnContext(ctx, "worker: handle message failed",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		cancel()
	}
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
