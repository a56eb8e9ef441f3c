package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gyaneshwarpardhi/hrguard/internal/config"
	"github.com/gyaneshwarpardhi/hrguard/internal/metrics"
)

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads audit events from a Kafka topic with a consumer group.
// Offsets are committed only after the engine accepted the event.
type KafkaConsumer struct {
	reader messageReader
	sub    Submitter
	topic  string
	logger *slog.Logger
}

// NewKafkaConsumer creates a consumer for conf.
func NewKafkaConsumer(conf config.KafkaConf, sub Submitter, logger *slog.Logger) *KafkaConsumer {
	logger = logger.With("component", "kafka-source", "topic", conf.Topic)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        conf.Brokers,
		GroupID:        conf.GroupID,
		Topic:          conf.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	})
	return newKafkaConsumer(reader, conf.Topic, sub, logger)
}

func newKafkaConsumer(r messageReader, topic string, sub Submitter, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: r, sub: sub, topic: topic, logger: logger}
}

// Run consumes until ctx is cancelled. It always closes the reader.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logger.Info("kafka source started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("fetch message failed", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
				continue
			}
		}
		if err := c.handle(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) error {
	ev, err := Decode(msg.Value, msg.Time)
	if err != nil {
		metrics.EventsDropped.Inc()
		c.logger.Warn("dropping malformed message", "partition", msg.Partition, "offset", msg.Offset, "err", err)
	} else if err := submitWithBackoff(ctx, c.sub, ev, c.logger); err != nil {
		return err
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("commit offset failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
	}
	return nil
}
